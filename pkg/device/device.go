// Package device decides which compute device each rank uses.
package device

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type Kind string

const (
	CPU Kind = "cpu"
	GPU Kind = "gpu"
)

// Context is handed to the model builder instead of mutating the process
// environment.
type Context struct {
	Kind  Kind `json:"kind"`
	Index int  `json:"index"`
}

func (c Context) String() string {
	if c.Kind == GPU {
		return fmt.Sprintf("gpu:%d", c.Index)
	}

	return string(CPU)
}

// Visible is the device list a backend should expose, in the format of
// CUDA_VISIBLE_DEVICES. CPU contexts expose nothing.
func (c Context) Visible() string {
	if c.Kind != GPU {
		return ""
	}

	return strconv.Itoa(c.Index)
}

type Request struct {
	Rank int
	Size int
	// MasterRanks lists ranks that keep the CPU unless MasterGPU is set.
	// Reserved coordinator ranks belong here too.
	MasterRanks []int
	// GPUBudget < 0 means every eligible rank, 0 means none.
	GPUBudget     int
	MasterGPU     bool
	AvailableGPUs int
}

// Assign is pure: equal requests always yield equal contexts.
func Assign(req Request) Context {
	cpu := Context{Kind: CPU}
	if req.GPUBudget == 0 || req.AvailableGPUs <= 0 {
		return cpu
	}

	pos := -1
	n := 0
	for r := range req.Size {
		if !req.MasterGPU && slices.Contains(req.MasterRanks, r) {
			continue
		}
		if r == req.Rank {
			pos = n
		}
		n++
	}
	if pos < 0 {
		return cpu
	}

	devices := req.AvailableGPUs
	if req.GPUBudget > 0 {
		if pos >= req.GPUBudget {
			return cpu
		}
		devices = min(req.GPUBudget, req.AvailableGPUs)
	}

	return Context{Kind: GPU, Index: pos % devices}
}

// DetectGPUs counts the GPUs visible through NVML. Hosts without the NVIDIA
// driver report zero.
func DetectGPUs() (count int) {
	defer func() {
		if recover() != nil {
			count = 0
		}
	}()

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return 0
	}
	defer nvml.Shutdown()

	n, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0
	}

	return n
}
