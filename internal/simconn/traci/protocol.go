package traci

// Command identifiers
const (
	cmdGetVersion      = 0x00
	cmdLoad            = 0x01
	cmdSimStep         = 0x02
	cmdClose           = 0x7F
	cmdGetSimVariable  = 0xab
	cmdGetVehVariable  = 0xa4
	cmdSetVehVariable  = 0xc4
	cmdSubscribeVehVar = 0xd4

	respGetSimVariable  = 0xbb
	respGetVehVariable  = 0xb4
	respSubscribeVehVar = 0xe4
)

// Variable identifiers
const (
	varSpeed           = 0x40
	varLanePosition    = 0x56
	varAcceleration    = 0x72
	varLaneID          = 0x51
	varType            = 0x4f
	varLength          = 0x44
	varSpeedSetMode    = 0xb3
	varPrevSpeed       = 0x3c
	varMoveTo          = 0x5c
	varRemove          = 0x81
	varAddFull         = 0x85
	varCollidingVehNum = 0x80
	varTime            = 0x66
)

// Data types
const (
	typeUByte      = 0x07
	typeByte       = 0x08
	typeInteger    = 0x09
	typeDouble     = 0x0B
	typeString     = 0x0C
	typeStringList = 0x0E
	typeCompound   = 0x0F
)

// Result codes of a status response
const (
	rtypeOK     = 0x00
	rtypeNotImp = 0x01
	rtypeErr    = 0xFF
)

const (
	invalidDouble   = -1073741824.0
	moveAutomatic   = 0
	removeVaporized = 2
)

// subscribedVars are the per-vehicle values read after every step
var subscribedVars = []byte{varSpeed, varLanePosition, varAcceleration}
