package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []string
	closed    bool
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.pending[0]
	f.pending = f.pending[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, string(m.Key))
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		pending: []kafka.Message{
			{Key: []byte("a"), Value: []byte(`{}`)},
			{Key: []byte("bad"), Value: []byte(`{}`)},
			{Key: []byte("b"), Value: []byte(`{}`)},
		},
	}
	var handled []string
	c := newConsumer(reader, "entry-upsert", func(_ context.Context, key, _ []byte) error {
		handled = append(handled, string(key))
		if string(key) == "bad" {
			return errors.New("index unavailable")
		}
		return nil
	})

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"a", "bad", "b"}, handled)
	assert.Equal(t, []string{"a", "b"}, reader.committed)
	assert.True(t, reader.closed)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerPublishesJSONKeyedByEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index-complete")
	require.NoError(t, p.Publish(context.Background(), Event{Key: "a", Value: map[string]string{"id": "a"}}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "a", string(w.msgs[0].Key))
	var got map[string]string
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "a", got["id"])

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), Event{Key: "b", Value: 1}))
	assert.Error(t, p.Publish(context.Background(), Event{Key: "c", Value: make(chan int)}))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ID string `json:"id"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}
