// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func loadCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens counts cl100k tokens in text. When the encoding is
// unavailable it falls back to four characters per token.
func EstimateTokens(text string) int {
	enc, err := loadCodec()
	if err != nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// FitContext trims text from the front so that at most limit tokens remain.
// The newest content sits at the end of a prompt, so the head is dropped.
// It returns the fitted text and the token count of the original.
func FitContext(text string, limit int) (string, int) {
	enc, err := loadCodec()
	if err != nil {
		n := (len(text) + 3) / 4
		if limit > 0 && n > limit {
			r := []rune(text)
			keep := limit * 4
			if keep < len(r) {
				return string(r[len(r)-keep:]), n
			}
		}
		return text, n
	}

	ids, _, err := enc.Encode(text)
	if err != nil {
		log.WithError(err).Debug("token estimate failed")
		return text, (len(text) + 3) / 4
	}
	if limit <= 0 || len(ids) <= limit {
		return text, len(ids)
	}

	trimmed, err := enc.Decode(ids[len(ids)-limit:])
	if err != nil {
		log.WithError(err).Debug("token decode failed")
		return text, len(ids)
	}
	return trimmed, len(ids)
}
