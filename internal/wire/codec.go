package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

// 两种编解码都按 json tag 序列化信封, 客户端通过 content-subtype 选择

type jsonCodec struct{}

func (jsonCodec) Name() string { return consts.CODEC_JSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return consts.CODEC_MSGPACK }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
	encoding.RegisterCodec(msgpackCodec{})
}

// CheckCodec validates a configured codec name.
func CheckCodec(name string) error {
	if encoding.GetCodec(name) == nil {
		return fmt.Errorf("wire: codec %q not registered", name)
	}
	return nil
}
