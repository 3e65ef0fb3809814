package document

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/hitoshi/jobsync/internal/model"
)

const (
	// payloadVersion はエンベロープ内のペイロードスキーマのバージョン。
	payloadVersion = 1
	// compressThreshold を超えるペイロードはzstdで圧縮する。
	compressThreshold = 4 * 1024

	compressionNone = ""
	compressionZstd = "zstd"
)

// envelope はストアに保存するペイロードの外殻。
// ストアはペイロードの形を知らず、読み出し側が種別とバージョンで復元する。
type envelope struct {
	Kind        string `cbor:"kind"`
	Version     uint   `cbor:"version"`
	Compression string `cbor:"compression,omitempty"`
	Data        []byte `cbor:"data"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// zstd.Encoder/Decoderは並行利用可能なため使い回す
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("document: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("document: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("document: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("document: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodePayload はペイロードを決定的CBORでエンベロープにエンコードする。
// 同じペイロードからは常に同じバイト列が得られる。
func EncodePayload(p model.Payload) ([]byte, error) {
	if p == nil {
		return nil, model.ErrUnsupportedPayload
	}
	if !p.Kind().Valid() {
		return nil, fmt.Errorf("%w: kind %q", model.ErrUnsupportedPayload, p.Kind())
	}

	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}

	env := envelope{
		Kind:    string(p.Kind()),
		Version: payloadVersion,
		Data:    data,
	}
	if len(data) > compressThreshold {
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			env.Compression = compressionZstd
			env.Data = compressed
		}
	}

	out, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload envelope: %w", err)
	}
	return out, nil
}

// DecodePayload はエンベロープを検証し、kindに対応する具象ペイロードに復元する。
func DecodePayload(kind model.DocumentKind, raw []byte) (model.Payload, error) {
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload envelope: %w", err)
	}
	if env.Kind != string(kind) {
		return nil, fmt.Errorf("%w: envelope kind %q, want %q", model.ErrUnsupportedPayload, env.Kind, kind)
	}
	if env.Version != payloadVersion {
		return nil, fmt.Errorf("%w: %s payload version %d", model.ErrUnsupportedPayload, kind, env.Version)
	}

	data := env.Data
	switch env.Compression {
	case compressionNone:
	case compressionZstd:
		var err error
		data, err = zstdDecoder.DecodeAll(env.Data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: compression %q", model.ErrUnsupportedPayload, env.Compression)
	}

	var p model.Payload
	switch kind {
	case model.DocumentKindResume:
		p = &model.ResumePayload{}
	case model.DocumentKindVacancy:
		p = &model.VacancyPayload{}
	default:
		return nil, fmt.Errorf("%w: kind %q", model.ErrUnsupportedPayload, kind)
	}
	if err := decMode.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return p, nil
}
