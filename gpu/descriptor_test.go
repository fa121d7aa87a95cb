package gpu

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestApplyDescriptorWritesNoopOnEmptyWrites(t *testing.T) {
	if err := applyDescriptorWrites(&Context{}, &CmdContext{}, nil, nil, nil); err != nil {
		t.Fatalf("applyDescriptorWrites with no writes should be a no-op, got err: %v", err)
	}
}

func TestApplyDescriptorWritesErrorsWithoutPoolOrPushDescriptors(t *testing.T) {
	ctx := &Context{PushDescriptorsAvailable: false}
	c := &CmdContext{}
	writes := []descriptorWrite{{binding: 0, descType: vk.DescriptorTypeUniformBuffer}}
	if err := applyDescriptorWrites(ctx, c, nil, nil, writes); err == nil {
		t.Fatal("expected an error when push descriptors are unavailable and the slot has no transient pool")
	}
}

func TestToVkWriteCarriesBufferInfo(t *testing.T) {
	bufInfo := &vk.DescriptorBufferInfo{Offset: 4, Range: 16}
	w := descriptorWrite{binding: 3, descType: vk.DescriptorTypeUniformBuffer, bufferInfo: bufInfo}
	out := toVkWrite(nil, w)
	if out.DstBinding != 3 || out.DescriptorType != vk.DescriptorTypeUniformBuffer {
		t.Fatalf("toVkWrite did not carry binding/type through: %+v", out)
	}
	if len(out.PBufferInfo) != 1 || out.PBufferInfo[0] != *bufInfo {
		t.Fatalf("toVkWrite did not carry bufferInfo through: %+v", out.PBufferInfo)
	}
	if out.PImageInfo != nil {
		t.Fatalf("expected no image info on a buffer write, got %+v", out.PImageInfo)
	}
}

func TestToVkWriteCarriesImageInfo(t *testing.T) {
	imgInfo := &vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
	w := descriptorWrite{binding: 5, descType: vk.DescriptorTypeCombinedImageSampler, imageInfo: imgInfo}
	out := toVkWrite(nil, w)
	if len(out.PImageInfo) != 1 || out.PImageInfo[0] != *imgInfo {
		t.Fatalf("toVkWrite did not carry imageInfo through: %+v", out.PImageInfo)
	}
	if out.PBufferInfo != nil {
		t.Fatalf("expected no buffer info on an image write, got %+v", out.PBufferInfo)
	}
}
