package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewTelegramDisabledWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewTelegram("", "", zerolog.Nop()))
	assert.Nil(t, NewTelegram("token", "", zerolog.Nop()))
	assert.Nil(t, NewTelegram("", "chat", zerolog.Nop()))
	assert.NotNil(t, NewTelegram("token", "chat", zerolog.Nop()))
}

func TestNilTelegramIsSafe(t *testing.T) {
	var tg *Telegram
	assert.NoError(t, tg.Send(context.Background(), "hello"))
	tg.SendQuiet(context.Background(), "hello")
}
