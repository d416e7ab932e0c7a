package kv

import (
	"encoding/binary"
	"fmt"
)

type CmdKind uint8

const (
	CmdSet CmdKind = iota
	CmdDelete
)

const (
	maxKeyLen   = 1024
	maxValueLen = 1024 * 1024
)

type Command struct {
	Kind  CmdKind
	Key   string
	Value string
}

// EncodeCommand encodes a command into a byte slice:
/*
	[0]                                - kind
	[1..5]                             - keyLen, uint32
	[5..5+keyLen]                      - key
	[5+keyLen..5+keyLen+4]             - valueLen, uint32 (set only)
	[5+keyLen+4..5+keyLen+4+valueLen]  - value (set only)
*/
func EncodeCommand(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CmdSet, CmdDelete:
	default:
		return nil, fmt.Errorf("unsupported command kind: %d", cmd.Kind)
	}

	var keyLen = uint32(len(cmd.Key))
	if keyLen == 0 {
		return nil, fmt.Errorf("key cannot be empty")
	}
	if keyLen > maxKeyLen {
		return nil, fmt.Errorf("key too large: %d bytes", keyLen)
	}

	var valueLen uint32
	if cmd.Kind == CmdSet {
		valueLen = uint32(len(cmd.Value))
		if valueLen > maxValueLen {
			return nil, fmt.Errorf("value too large: %d bytes", valueLen)
		}
	}

	var msg = make([]byte, 0, 5+keyLen+4+valueLen)
	msg = append(msg, byte(cmd.Kind))
	msg = binary.BigEndian.AppendUint32(msg, keyLen)
	msg = append(msg, cmd.Key...)

	if cmd.Kind == CmdSet {
		msg = binary.BigEndian.AppendUint32(msg, valueLen)
		msg = append(msg, cmd.Value...)
	}

	return msg, nil
}

// DecodeCommand decodes a command from a byte slice.
func DecodeCommand(msg []byte) (Command, error) {
	var cmd Command

	// minimum length is 5 bytes (1 byte for kind and 4 bytes for keyLen)
	if len(msg) < 5 {
		return cmd, fmt.Errorf("command too short: %d bytes", len(msg))
	}

	cmd.Kind = CmdKind(msg[0])
	if cmd.Kind != CmdSet && cmd.Kind != CmdDelete {
		return cmd, fmt.Errorf("unsupported command kind: %d", msg[0])
	}

	var keyLen = int(binary.BigEndian.Uint32(msg[1:5]))
	if keyLen <= 0 || keyLen > maxKeyLen {
		return cmd, fmt.Errorf("invalid key length: %d", keyLen)
	}
	if len(msg) < 5+keyLen {
		return cmd, fmt.Errorf("incomplete message for key: need %d, got %d", 5+keyLen, len(msg))
	}

	cmd.Key = string(msg[5 : 5+keyLen])

	if cmd.Kind == CmdSet {
		var valueOffset = 5 + keyLen
		if len(msg) < valueOffset+4 {
			return cmd, fmt.Errorf("message too short for value length")
		}

		var valueLen = int(binary.BigEndian.Uint32(msg[valueOffset : valueOffset+4]))
		if valueLen < 0 || valueLen > maxValueLen {
			return cmd, fmt.Errorf("invalid value length: %d", valueLen)
		}
		if len(msg) < valueOffset+4+valueLen {
			return cmd, fmt.Errorf("incomplete message for value: need %d, got %d", valueOffset+4+valueLen, len(msg))
		}

		cmd.Value = string(msg[valueOffset+4 : valueOffset+4+valueLen])
	}

	return cmd, nil
}
