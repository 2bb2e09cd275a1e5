package cache

import (
	"bytes"
	"encoding/gob"
)

type cachedObject interface {
	*FolderContents | *MailboxList
}

func marshal[T cachedObject](obj T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buf)
	err := encoder.Encode(obj)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal[T cachedObject](data []byte, obj T) error {
	buf := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buf)
	return decoder.Decode(obj)
}
