package pinboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pindl/pkg/models"
)

// scriptedServer serves canned page responses in order and counts calls
func scriptedServer(t *testing.T, responses []string, statuses []int) (*Client, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Less(t, calls, len(responses), "more requests than scripted responses")
		if statuses != nil && statuses[calls] != http.StatusOK {
			w.WriteHeader(statuses[calls])
			calls++
			return
		}
		fmt.Fprint(w, responses[calls])
		calls++
	}))
	t.Cleanup(server.Close)

	client := NewWithBaseURL(&http.Client{Timeout: 5 * time.Second}, server.URL)
	return client, &calls
}

func page(items string, bookmark string) string {
	return fmt.Sprintf(`{"resource_response":{"data":%s,"bookmark":%q}}`, items, bookmark)
}

func TestClient_FetchAllStopsOnEmptyCursoredPages(t *testing.T) {
	// Three consecutive empty-but-cursored pages trip the breaker; the
	// fifth page must never be fetched.
	client, calls := scriptedServer(t, []string{
		page(`[{"id":"x"}]`, "a"),
		page(`[]`, "a"),
		page(`[]`, "a"),
		page(`[]`, "a"),
		page(`[{"id":"y"}]`, ""),
	}, nil)

	result, err := client.FetchAll(context.Background(), "alice", Options{EmptyPageLimit: 3})
	require.NoError(t, err)
	require.Equal(t, 4, *calls)
	require.Len(t, result.Items, 1)
	require.Equal(t, "x", result.Items[0]["id"])
}

func TestClient_FetchAllWalksCursors(t *testing.T) {
	client, calls := scriptedServer(t, []string{
		page(`[{"id":"1"},{"id":"2"}]`, "next"),
		page(`[{"id":"3"}]`, "-end-"),
	}, nil)

	var pages []int
	result, err := client.FetchAll(context.Background(), "alice", Options{
		OnPage: func(pageIndex, itemCount int) {
			pages = append(pages, itemCount)
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, *calls)
	require.Len(t, result.Items, 3)
	require.Equal(t, []int{2, 3}, pages)
}

func TestClient_FetchAllEmptyPageNoCursorStops(t *testing.T) {
	client, calls := scriptedServer(t, []string{
		page(`[{"id":"1"}]`, "a"),
		page(`[]`, ""),
	}, nil)

	result, err := client.FetchAll(context.Background(), "alice", Options{})
	require.NoError(t, err)
	require.Equal(t, 2, *calls)
	require.Len(t, result.Items, 1)
}

func TestClient_FetchAllFailsWithNothingCollected(t *testing.T) {
	client, _ := scriptedServer(t, []string{""}, []int{http.StatusInternalServerError})

	_, err := client.FetchAll(context.Background(), "alice", Options{})
	var netErr *models.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
}

func TestClient_FetchAllKeepsPartialResults(t *testing.T) {
	client, calls := scriptedServer(t,
		[]string{page(`[{"id":"1"}]`, "a"), ""},
		[]int{http.StatusOK, http.StatusBadGateway})

	result, err := client.FetchAll(context.Background(), "alice", Options{})
	require.NoError(t, err)
	require.Equal(t, 2, *calls)
	require.Len(t, result.Items, 1)
}

func TestClient_FetchAllCapturesOwnerOnce(t *testing.T) {
	client, _ := scriptedServer(t, []string{
		page(`[{"id":"1","pinner":{"id":"42","username":"alice","full_name":"Alice A"}}]`, "a"),
		page(`[{"id":"2","pinner":{"id":"43","username":"other","full_name":"Other"}}]`, ""),
	}, nil)

	result, err := client.FetchAll(context.Background(), "alice", Options{})
	require.NoError(t, err)
	require.Equal(t, "42", result.Owner.ID)
	require.Equal(t, "alice", result.Owner.Username)
}

func TestClient_FetchAllHitsPageCap(t *testing.T) {
	client, calls := scriptedServer(t, []string{
		page(`[{"id":"1"}]`, "a"),
		page(`[{"id":"2"}]`, "b"),
	}, nil)

	result, err := client.FetchAll(context.Background(), "alice", Options{MaxPages: 2})
	require.NoError(t, err)
	require.Equal(t, 2, *calls)
	require.True(t, result.HitPageCap)
	require.Len(t, result.Items, 2)
}

func TestClient_FetchAllRejectsBadUsername(t *testing.T) {
	client := New(nil)

	_, err := client.FetchAll(context.Background(), "not a user!", Options{})
	var valErr *models.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestClient_FetchPin(t *testing.T) {
	client, _ := scriptedServer(t, []string{
		`{"resource_response":{"data":{"id":"77","grid_title":"hello"}}}`,
	}, nil)

	pin, err := client.FetchPin(context.Background(), "77")
	require.NoError(t, err)
	require.Equal(t, "77", pin["id"])
}

func TestClient_FetchPinMissing(t *testing.T) {
	client, _ := scriptedServer(t, []string{
		`{"resource_response":{"data":null}}`,
	}, nil)

	_, err := client.FetchPin(context.Background(), "77")
	var parseErr *models.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"alice", "alice"},
		{"@alice", "alice"},
		{" alice ", "alice"},
		{"https://www.pinterest.com/alice/", "alice"},
		{"pinterest.com/alice", "alice"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, NormalizeUsername(tt.in), "input %q", tt.in)
	}
}
