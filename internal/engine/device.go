package engine

import (
	"os"
	"runtime"
)

// Backend identifies a compute backend for inference.
type Backend string

const (
	BackendCUDA  Backend = "cuda"
	BackendMetal Backend = "metal"
	BackendCPU   Backend = "cpu"
)

// Preference returns the backend priority order. CPU is always last because
// it is universally available.
func Preference() []Backend {
	return []Backend{BackendCUDA, BackendMetal, BackendCPU}
}

// DetectBackend picks the best available backend for this process
// environment. Detection is deterministic: the same environment always
// yields the same answer. NARRATE_DEVICE forces a specific backend.
func DetectBackend() Backend {
	if forced := os.Getenv("NARRATE_DEVICE"); forced != "" {
		switch Backend(forced) {
		case BackendCUDA, BackendMetal, BackendCPU:
			return Backend(forced)
		}
	}
	for _, b := range Preference() {
		if backendAvailable(b) {
			return b
		}
	}
	return BackendCPU
}

func backendAvailable(b Backend) bool {
	switch b {
	case BackendCUDA:
		if os.Getenv("CUDA_VISIBLE_DEVICES") != "" {
			return true
		}
		_, err := os.Stat("/dev/nvidia0")
		return err == nil
	case BackendMetal:
		return runtime.GOOS == "darwin"
	case BackendCPU:
		return true
	}
	return false
}
