package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcasts/internal/domain"
	"podcasts/internal/opml"
)

type fakeLister struct {
	subs      []domain.Subscription
	err       error
	lastLimit int
}

func (f *fakeLister) CountSubscriptions(ctx context.Context) (int, error) {
	return len(f.subs), f.err
}

func (f *fakeLister) ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error) {
	f.lastLimit = limit
	if limit > 0 && limit < len(f.subs) {
		return f.subs[:limit], f.err
	}
	return f.subs, f.err
}

func TestSubscriptions_List(t *testing.T) {
	lister := &fakeLister{subs: []domain.Subscription{
		{Podcast: domain.Podcast{ID: 1, Title: "one"}},
		{Podcast: domain.Podcast{ID: 2, Title: "two"}},
	}}
	uc := NewSubscriptionsUseCase(lister)

	subs, err := uc.List(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, 1, lister.lastLimit)
}

func TestSubscriptions_ExportRoundTrip(t *testing.T) {
	lister := &fakeLister{subs: []domain.Subscription{
		{Podcast: domain.Podcast{ID: 1, Title: "Tom & Jerry", FeedURL: "https://a.example/rss?x=1&y=2"}},
		{Podcast: domain.Podcast{ID: 2, Title: "two", FeedURL: "https://b.example/rss"}},
	}}
	uc := NewSubscriptionsUseCase(lister)
	var buf bytes.Buffer

	require.NoError(t, uc.Export(context.Background(), &buf, "My podcasts"))

	assert.Equal(t, 2, lister.lastLimit)
	urls, err := opml.ExtractFeedURLs(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/rss?x=1&y=2", "https://b.example/rss"}, urls)
}

func TestSubscriptions_ExportEmpty(t *testing.T) {
	lister := &fakeLister{}
	uc := NewSubscriptionsUseCase(lister)
	var buf bytes.Buffer

	require.NoError(t, uc.Export(context.Background(), &buf, "empty"))

	assert.Zero(t, lister.lastLimit)
	assert.Contains(t, buf.String(), "<opml")
}

func TestSubscriptions_ExportError(t *testing.T) {
	uc := NewSubscriptionsUseCase(&fakeLister{err: errors.New("boom")})

	err := uc.Export(context.Background(), &bytes.Buffer{}, "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "count subscriptions")
}
