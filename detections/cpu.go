package detections

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

type CPUInfo struct {
	Arch       string   `json:"arch"`
	NumCPU     int      `json:"num_cpu"`
	MaxProcs   int      `json:"max_procs"`
	Features   []string `json:"features"`
	Preprocess string   `json:"preprocess"`
}

// DescribeCPU reports the host features relevant to preprocessing throughput.
func DescribeCPU() CPUInfo {
	info := CPUInfo{
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		MaxProcs:   runtime.GOMAXPROCS(0),
		Features:   []string{},
		Preprocess: "parallel-rows",
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		flags := []struct {
			name string
			has  bool
		}{
			{"sse41", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		}
		for _, f := range flags {
			if f.has {
				info.Features = append(info.Features, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			info.Features = append(info.Features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			info.Features = append(info.Features, "fphp")
		}
	}

	if info.MaxProcs == 1 {
		info.Preprocess = "single-row"
	}

	return info
}
