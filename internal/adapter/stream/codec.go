package stream

import (
	"fmt"

	"github.com/mailru/easyjson"

	"candleflow/internal/domain/model"
)

// Codec turns subscription requests into frames and frames into messages.
type Codec interface {
	Encode(req model.SubscribeRequest) ([]byte, error)
	Decode(data []byte) (model.SymbolDataMessage, error)
}

// JSONCodec is the default wire codec.
type JSONCodec struct{}

func (JSONCodec) Encode(req model.SubscribeRequest) ([]byte, error) {
	return easyjson.Marshal(req)
}

func (JSONCodec) Decode(data []byte) (model.SymbolDataMessage, error) {
	var msg model.SymbolDataMessage
	if err := easyjson.Unmarshal(data, &msg); err != nil {
		return model.SymbolDataMessage{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if msg.Symbol == "" {
		return model.SymbolDataMessage{}, fmt.Errorf("%w: missing symbol", ErrParseFailure)
	}
	if err := msg.Timeframe.Validate(); err != nil {
		return model.SymbolDataMessage{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return msg, nil
}
