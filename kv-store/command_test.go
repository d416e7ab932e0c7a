package kv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	var tt = []struct {
		name        string
		cmd         Command
		expectedMsg []byte
		expectedErr error
	}{
		{
			name: "set command",
			cmd:  Command{Kind: CmdSet, Key: "key", Value: "value"},
			expectedMsg: []byte{
				0x00,
				0x00, 0x00, 0x00, 0x03,
				'k', 'e', 'y',
				0x00, 0x00, 0x00, 0x05,
				'v', 'a', 'l', 'u', 'e',
			},
		},
		{
			name:        "set with empty value",
			cmd:         Command{Kind: CmdSet, Key: "key", Value: ""},
			expectedMsg: []byte{0x00, 0x00, 0x00, 0x00, 0x03, 'k', 'e', 'y', 0x00, 0x00, 0x00, 0x00},
		},
		{
			name:        "delete command",
			cmd:         Command{Kind: CmdDelete, Key: "key"},
			expectedMsg: []byte{0x01, 0x00, 0x00, 0x00, 0x03, 'k', 'e', 'y'},
		},
		{
			name:        "empty key",
			cmd:         Command{Kind: CmdSet, Key: "", Value: "value"},
			expectedErr: fmt.Errorf("key cannot be empty"),
		},
		{
			name:        "unknown kind",
			cmd:         Command{Kind: CmdKind(9), Key: "key"},
			expectedErr: fmt.Errorf("unsupported command kind: 9"),
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var msg, err = EncodeCommand(tc.cmd)
			if tc.expectedErr != nil {
				require.EqualError(t, err, tc.expectedErr.Error())
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.expectedMsg, msg)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	var tt = []struct {
		name        string
		msg         []byte
		expectedCmd Command
		expectedErr error
	}{
		{
			name:        "set command",
			msg:         []byte{0x00, 0x00, 0x00, 0x00, 0x03, 'k', 'e', 'y', 0x00, 0x00, 0x00, 0x05, 'v', 'a', 'l', 'u', 'e'},
			expectedCmd: Command{Kind: CmdSet, Key: "key", Value: "value"},
		},
		{
			name:        "delete command",
			msg:         []byte{0x01, 0x00, 0x00, 0x00, 0x03, 'k', 'e', 'y'},
			expectedCmd: Command{Kind: CmdDelete, Key: "key"},
		},
		{
			name:        "too short",
			msg:         []byte{0x00, 0x00},
			expectedErr: fmt.Errorf("command too short: 2 bytes"),
		},
		{
			name:        "invalid key length",
			msg:         []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 'k'},
			expectedErr: fmt.Errorf("invalid key length: %d", 4294967295),
		},
		{
			name:        "message too short for value length",
			msg:         []byte{0x00, 0x00, 0x00, 0x00, 0x03, 'k', 'e', 'y', 0x00, 0x00, 0x00},
			expectedErr: fmt.Errorf("message too short for value length"),
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var cmd, err = DecodeCommand(tc.msg)
			if tc.expectedErr != nil {
				require.EqualError(t, err, tc.expectedErr.Error())
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.expectedCmd, cmd)
			}
		})
	}
}

func TestEncodeDecodeCompatibility(t *testing.T) {
	var tt = []struct {
		name string
		cmd  Command
	}{
		{
			name: "set command",
			cmd:  Command{Kind: CmdSet, Key: "key", Value: "value"},
		},
		{
			name: "delete command",
			cmd:  Command{Kind: CmdDelete, Key: "key"},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := EncodeCommand(tc.cmd)
			require.NoError(t, err)

			decoded, err := DecodeCommand(encoded)
			require.NoError(t, err)

			require.Equal(t, tc.cmd, decoded)
		})
	}
}
