package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := &Memory{}
	require.NoError(t, m.Publish(context.Background(), []Change{{DOI: "a", Action: ActionCreated}}))
	require.NoError(t, m.Publish(context.Background(), []Change{{DOI: "b", Action: ActionUpdated}}))

	got := m.Changes()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DOI)
	assert.Equal(t, ActionUpdated, got[1].Action)

	m.Err = errors.New("broker down")
	assert.Error(t, m.Publish(context.Background(), nil))
	assert.Len(t, m.Changes(), 2)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), []Change{{DOI: "a"}}))
	assert.NoError(t, p.Close())
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(context.Background(), KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}
