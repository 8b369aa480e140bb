package tokens

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/Laisky/gemini-balance/common/logger"
)

// Exact token counting for usage fallback when upstream omits usageMetadata.
// Gemini models have no published tokenizer, so cl100k_base is used as the
// closest stable approximation.

var (
	tokenEncoderOnce sync.Once
	tokenEncoder     *tiktoken.Tiktoken
)

func getTokenEncoder() *tiktoken.Tiktoken {
	tokenEncoderOnce.Do(func() {
		encoder, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Logger.Error("failed to load cl100k_base encoding", zap.Error(err))
			return
		}
		tokenEncoder = encoder
	})
	return tokenEncoder
}

// CountTokenText counts the tokens of a text with the fallback encoder. When
// the encoder is unavailable the cheap estimate is used instead.
func CountTokenText(text string) int {
	encoder := getTokenEncoder()
	if encoder == nil {
		n := int(EstimateText(text))
		if n < 1 && text != "" {
			n = 1
		}
		return n
	}
	return len(encoder.Encode(text, nil, nil))
}
