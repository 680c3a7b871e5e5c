package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id1, err := p.Publish(context.Background(), "jobs.completed", map[string]string{"job_id": "a"})
	require.NoError(t, err)
	id2, err := p.Publish(context.Background(), "jobs.completed", map[string]string{"job_id": "b"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs.completed", msgs[0].Topic)
}
