package zk

import (
	"fmt"
)

// readWithBuffer performs a buffered bulk read of the given table. The device
// either answers with the data directly or with its size, in which case the
// payload is fetched in MaxChunk blocks.
func (zk *ZK) readWithBuffer(command, fct, ext int) ([]byte, int, error) {
	commandString, err := newBP().Pack([]string{"B", "H", "I", "I"}, []interface{}{1, command, fct, ext})
	if err != nil {
		return nil, 0, err
	}

	res, err := zk.sendCommand(CMD_PREPARE_BUFFER, commandString)
	if err != nil {
		return nil, 0, err
	}
	if !res.Status {
		return nil, 0, fmt.Errorf("%w: prepare buffer answered %d", ErrResponse, res.Code)
	}

	if res.Code == CMD_DATA {
		return res.Data, len(res.Data), nil
	}

	if len(res.Data) < 5 {
		return nil, 0, fmt.Errorf("%w: buffer size missing", ErrMalformedLength)
	}
	sizeUnpack, err := unpack([]string{"I"}, res.Data[1:5])
	if err != nil {
		return nil, 0, err
	}
	size := int(u32(sizeUnpack[0]))

	remain := size % MaxChunk
	packets := (size - remain) / MaxChunk
	zk.Log.Debugf("[%d] buffered read: size=%d packets=%d remain=%d", zk.machineID, size, packets, remain)

	data := make([]byte, 0, size)
	start := 0
	for i := 0; i < packets; i++ {
		chunk, err := zk.readChunk(start, MaxChunk)
		if err != nil {
			return nil, 0, err
		}
		data = append(data, chunk...)
		start += MaxChunk
	}
	if remain > 0 {
		chunk, err := zk.readChunk(start, remain)
		if err != nil {
			return nil, 0, err
		}
		data = append(data, chunk...)
		start += remain
	}

	if err := zk.freeData(); err != nil {
		zk.Log.Error(zk.machineID, " free data failed: ", err)
	}

	if len(data) != size {
		return nil, 0, fmt.Errorf("%w: buffer announced %d bytes, got %d", ErrMalformedLength, size, len(data))
	}
	return data, start, nil
}

func (zk *ZK) readChunk(start, size int) ([]byte, error) {
	commandString, err := newBP().Pack([]string{"I", "I"}, []interface{}{start, size})
	if err != nil {
		return nil, err
	}

	res, err := zk.sendCommand(CMD_READ_BUFFER, commandString)
	if err != nil {
		return nil, err
	}
	return zk.receiveChunk(res)
}

// receiveChunk collects the payload of a CMD_DATA reply, or of the CMD_DATA
// packets that follow a CMD_PREPARE_DATA announcement.
func (zk *ZK) receiveChunk(res *Response) ([]byte, error) {
	switch res.Code {
	case CMD_DATA:
		return res.Data, nil
	case CMD_PREPARE_DATA:
		size, err := getDataSize(res.Code, res.Data)
		if err != nil {
			return nil, err
		}

		data := make([]byte, 0, size)
		for len(data) < size {
			msg, err := zk.receive()
			if err != nil {
				return nil, err
			}
			if msg.Head.Code != CMD_DATA {
				return nil, fmt.Errorf("%w: expected %d bytes, got %d before reply %d", ErrMalformedLength, size, len(data), msg.Head.Code)
			}
			data = append(data, msg.Data...)
		}
		if len(data) > size {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedLength, size, len(data))
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: chunk answered %d", ErrResponse, res.Code)
	}
}

func (zk *ZK) freeData() error {
	res, err := zk.sendCommand(CMD_FREE_DATA, nil)
	if err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("%w: free data answered %d", ErrResponse, res.Code)
	}
	return nil
}
