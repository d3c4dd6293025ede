package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations on the object table.
type CommandType uint8

const (
	CommandTPut    CommandType = iota // Replace the full content of an object.
	CommandTRemove                    // Delete an object.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// commandHeaderSize is type + key length
const commandHeaderSize = 1 + 4

// Command is one entry in the raft log.
type Command struct {
	Type  CommandType
	Key   string
	Value []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return commandHeaderSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:5], uint32(len(command.Key)))
	n := copy(result[commandHeaderSize:], command.Key)
	copy(result[commandHeaderSize+n:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
// A present but empty value decodes to nil.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	keyLen := binary.BigEndian.Uint32(data[1:5])

	if uint64(len(data)) < commandHeaderSize+uint64(keyLen) {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	keyEnd := commandHeaderSize + int(keyLen)
	command.Key = string(data[commandHeaderSize:keyEnd])

	if valueLen := len(data) - keyEnd; valueLen > 0 {
		// reuse the existing buffer if it is large enough
		if cap(command.Value) < valueLen {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[keyEnd:])
	} else {
		command.Value = nil
	}

	return nil
}
