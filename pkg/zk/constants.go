package zk

const (
	USHRT_MAX = 65535

	MACHINE_PREPARE_DATA_1 = 20560 // 0x5050
	MACHINE_PREPARE_DATA_2 = 32130 // 0x7D82

	// MaxChunk is the largest block requested per CMD_READ_BUFFER over TCP.
	MaxChunk = 0xFFC0

	maxPacketSize = 1 << 20
)

// Command codes
const (
	CMD_CONNECT       = 1000
	CMD_EXIT          = 1001
	CMD_ENABLEDEVICE  = 1002
	CMD_DISABLEDEVICE = 1003
	CMD_RESTART       = 1004
	CMD_REFRESHDATA   = 1013
	CMD_GET_VERSION   = 1100
	CMD_AUTH          = 1102

	CMD_ACK_OK      = 2000
	CMD_ACK_ERROR   = 2001
	CMD_ACK_DATA    = 2002
	CMD_ACK_RETRY   = 2003
	CMD_ACK_REPEAT  = 2004
	CMD_ACK_UNAUTH  = 2005
	CMD_ACK_UNKNOWN = 0xffff

	CMD_PREPARE_DATA   = 1500
	CMD_DATA           = 1501
	CMD_FREE_DATA      = 1502
	CMD_PREPARE_BUFFER = 1503
	CMD_READ_BUFFER    = 1504

	CMD_DB_RRQ         = 7
	CMD_USER_WRQ       = 8
	CMD_USERTEMP_RRQ   = 9
	CMD_OPTIONS_RRQ    = 11
	CMD_ATTLOG_RRQ     = 13
	CMD_DELETE_USER    = 18
	CMD_GET_FREE_SIZES = 50
	CMD_GET_USERTEMP   = 88
	CMD_REG_EVENT      = 500
)

// Function types for buffered reads
const (
	FCT_ATTLOG    = 1
	FCT_FINGERTMP = 2
	FCT_USER      = 5
)

// Event flags for CMD_REG_EVENT
const (
	EF_ATTLOG = 1
)

// User privileges as stored on the terminal
const (
	USER_DEFAULT = 0
	USER_ADMIN   = 14
)
