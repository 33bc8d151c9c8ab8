package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "discovery.job.completed", map[string]string{"job_id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "discovery.job.failed", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "discovery.job.completed", msgs[0].Topic)
	assert.Equal(t, "discovery.job.failed", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.NotEqual(t, "modified", pub.Messages()[0].Topic)
}
