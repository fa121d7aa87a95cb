package gpu

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
)

// applyDescriptorWrites binds one batch's descriptor writes, either via
// push descriptors (no set allocation, no pool pressure) or, when
// VK_KHR_push_descriptor was not enabled, by allocating a transient set
// from the current command slot's descriptor pool and updating it (§4.C).
// The write list is identical either way; only the binding mechanism
// differs.
func applyDescriptorWrites(ctx *Context, c *CmdContext, pipelineLayout vk.PipelineLayout, descLayout vk.DescriptorSetLayout, writes []descriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}

	if ctx.PushDescriptorsAvailable {
		vkWrites := make([]vk.WriteDescriptorSet, len(writes))
		for i, w := range writes {
			vkWrites[i] = toVkWrite(nil, w)
		}
		vk.CmdPushDescriptorSetKHR(c.Handle, vk.PipelineBindPointGraphics, pipelineLayout, 0, uint32(len(vkWrites)), vkWrites)
		return nil
	}

	if c.descriptorPool == nil {
		return fmt.Errorf("descriptor: no transient pool on this command slot and push descriptors unavailable")
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{descLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(ctx.Device, &allocInfo, &sets[0]); res != vk.Success {
		err := fmt.Errorf("vkAllocateDescriptorSets failed: %s", vk.Error(res))
		core.LogError(err.Error())
		return err
	}
	set := sets[0]

	vkWrites := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkWrites[i] = toVkWrite(set, w)
	}
	vk.UpdateDescriptorSets(ctx.Device, uint32(len(vkWrites)), vkWrites, 0, nil)
	vk.CmdBindDescriptorSets(c.Handle, vk.PipelineBindPointGraphics, pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	return nil
}

func toVkWrite(dstSet vk.DescriptorSet, w descriptorWrite) vk.WriteDescriptorSet {
	out := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          dstSet,
		DstBinding:      w.binding,
		DescriptorCount: 1,
		DescriptorType:  w.descType,
	}
	if w.bufferInfo != nil {
		out.PBufferInfo = []vk.DescriptorBufferInfo{*w.bufferInfo}
	}
	if w.imageInfo != nil {
		out.PImageInfo = []vk.DescriptorImageInfo{*w.imageInfo}
	}
	return out
}
