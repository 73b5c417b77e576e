package canlink

// OpenFlags control Channel.Open. They are named after canlib's
// canOPEN_* flags but are not passed through: Open turns OpenCanFD and
// OpenCanFDNonISO into the OPEN command's FD fields, rejects
// OpenSharedMode, and ignores the rest.
type OpenFlags uint32

const (
	OpenCanFD OpenFlags = 1 << iota
	OpenCanFDNonISO
	OpenSharedMode
	OpenExclusive
	OpenRequireExtended
	OpenAcceptVirtual
)

// DriverMode selects the controller's output mode. Only Silent and
// Normal are accepted by setDriverMode; Off and SelfReception are
// rejected.
type DriverMode int

const (
	DriverNormal DriverMode = iota
	DriverSilent
	DriverOff
	DriverSelfReception
)

// Capability bits returned by Channel.Capabilities.
type Capability uint32

const (
	CapCanFD Capability = 1 << iota
	CapExtendedCAN
	CapErrorFrames
	CapBusStats
)
