package ir

const (
	// IRVersion is stamped on every stored event. Readers fold events of
	// any version they can decode.
	IRVersion = "1"

	// KernelVersion is the release reported by nbkernel --version.
	KernelVersion = "0.1.0"
)
