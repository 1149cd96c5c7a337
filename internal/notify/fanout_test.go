package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelwatch/parcelwatch/internal/bot/bottest"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

func TestDeliverChangesPerLanguageGroup(t *testing.T) {
	transport := bottest.New()
	f := NewFanout(transport, NewRenderer(100), 4096, 0, zerolog.Nop())

	changes := model.ChangeSet{
		Updates: []model.Package{pkg("p1", "libro", "En aduana", "70%", 1)},
		Deletes: []model.Package{{
			Identifier: "p2", Tracking: "TRK-p2", Description: "zapatos",
			Status: model.StatusDelivered,
		}},
		Previous: map[string]model.Package{
			"p1": pkg("p1", "libro", "En tránsito", "50%", 1),
		},
	}
	groups := []ChannelGroup{
		{LanguageCode: "es", ChatIDs: []int64{1, 2}},
		{LanguageCode: "en", ChatIDs: []int64{3}},
	}

	f.DeliverChanges(context.Background(), groups, changes)

	for _, chatID := range []int64{1, 2} {
		msgs := transport.MessagesFor(chatID)
		require.Len(t, msgs, 1, "chat %d", chatID)
		assert.Contains(t, msgs[0], "*Estado de paquetes*")
		assert.Contains(t, msgs[0], "En tránsito → En aduana")
		// Closed packages are persisted but never announced.
		assert.NotContains(t, msgs[0], "TRK-p2")
	}

	msgs := transport.MessagesFor(3)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "*Package status*")
}

func TestDeliverChangesSkipsEmptyDiff(t *testing.T) {
	transport := bottest.New()
	f := NewFanout(transport, NewRenderer(100), 4096, 0, zerolog.Nop())

	f.DeliverChanges(context.Background(), []ChannelGroup{{LanguageCode: "es", ChatIDs: []int64{1}}}, model.ChangeSet{})
	assert.Empty(t, transport.Messages())
}

func TestSendListingPacesChunks(t *testing.T) {
	transport := bottest.New()
	// An entity budget of 10 fits the header plus one full package, so three
	// packages render as two chunks.
	f := NewFanout(transport, NewRenderer(10), 4096, 0, zerolog.Nop())

	pkgs := []model.Package{
		pkg("p1", "a", "Recibido", "30%", 1),
		pkg("p2", "b", "Recibido", "30%", 1),
		pkg("p3", "c", "Recibido", "30%", 1),
	}
	require.NoError(t, f.SendListing(context.Background(), 7, "es", pkgs))

	msgs := transport.MessagesFor(7)
	require.Len(t, msgs, 2)
	// A typing indicator precedes every chunk except the last.
	assert.Equal(t, len(msgs)-1, transport.TypingCount(7))
	for _, m := range msgs {
		assert.False(t, strings.Contains(m, separator))
	}
}
