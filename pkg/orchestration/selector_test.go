package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(clients []Client) []string {
	out := make([]string, len(clients))
	for i, c := range clients {
		out[i] = c.ID
	}

	return out
}

func TestRoundRobinSelector(t *testing.T) {
	ctx := context.Background()
	clients := []Client{
		{ID: "a", Alive: true},
		{ID: "b", Alive: false},
		{ID: "c", Alive: true},
		{ID: "d", Alive: true},
	}

	sel := NewRoundRobinSelector()

	got, err := sel.Select(ctx, clients, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(got))

	got, err = sel.Select(ctx, clients, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, ids(got))

	got, err = sel.Select(ctx, clients, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, ids(got))

	_, err = sel.Select(ctx, nil, 1)
	assert.ErrorIs(t, err, ErrNoClients)

	_, err = sel.Select(ctx, []Client{{ID: "x"}}, 1)
	assert.ErrorIs(t, err, ErrDeadClients)
}

func TestSelectAll(t *testing.T) {
	got, err := SelectAll.Select(context.Background(), []Client{{ID: "a", Alive: true}, {ID: "b"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestNewSelector(t *testing.T) {
	ctx := context.Background()
	clients := []Client{
		{ID: "a", Alive: true},
		{ID: "b", Alive: true},
		{ID: "c", Alive: true},
	}

	cases := []struct {
		desc string
		name string
		want []string
		err  error
	}{
		{desc: "default", name: "", want: []string{"a", "b", "c"}},
		{desc: "all", name: SelectorAll, want: []string{"a", "b", "c"}},
		{desc: "round robin", name: SelectorRoundRobin, want: []string{"a", "b"}},
		{desc: "unknown", name: "random", err: ErrUnknownSelector},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			sel, err := NewSelector(tc.name)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			got, err := sel.Select(ctx, clients, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}
