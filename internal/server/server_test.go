package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/entitykit/internal/activity"
	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/eventbus"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/store"
)

type testEnv struct {
	srv *httptest.Server
	bus *eventbus.Bus
}

type who struct {
	id    string
	roles string
}

var anonymous = who{}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg, err := schema.LoadFile("")
	require.NoError(t, err)
	table, err := policy.LoadFile("")
	require.NoError(t, err)

	bus := eventbus.New(64, nil)
	feed := activity.NewMemoryStore(0)
	bus.Subscribe("activity", activity.NewIndexer(feed))
	bus.Start(ctx)

	st, err := store.Open(ctx, "file::memory:", reg, store.WithPublisher(bus))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(NewRouter(Config{
		Store:     st,
		Evaluator: policy.NewEvaluator(table, policy.WithRegistry(reg)),
		Bus:       bus,
		Activity:  feed,
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, as who, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req, as)
}

func (e *testEnv) send(t *testing.T, req *http.Request, as who) (int, map[string]any) {
	t.Helper()
	if as.id != "" {
		req.Header.Set("X-Subject-ID", as.id)
		req.Header.Set("X-Subject-Roles", as.roles)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (e *testEnv) createUser(t *testing.T, first, role string) who {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/users", anonymous, map[string]any{
		"first_name": first,
		"email":      strings.ToLower(first) + "@example.com",
		"role":       role,
	})
	require.Equal(t, http.StatusCreated, status, body)
	return who{id: body["id"].(string), roles: role}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNavDependsOnSubject(t *testing.T) {
	e := newEnv(t)
	types := func(as who) []string {
		req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/nav", nil)
		require.NoError(t, err)
		if as.id != "" {
			req.Header.Set("X-Subject-ID", as.id)
			req.Header.Set("X-Subject-Roles", as.roles)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var nav []schema.NavDescriptor
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&nav))
		var out []string
		for _, n := range nav {
			out = append(out, string(n.Type))
		}
		return out
	}

	assert.Equal(t, []string{"Categories", "Courses", "CoachContent", "Comments"}, types(anonymous))
	assert.Contains(t, types(who{id: "1", roles: "admin"}), "Users")
	assert.NotContains(t, types(who{id: "2"}), "Users")
}

func TestCourseLifecycle(t *testing.T) {
	e := newEnv(t)
	coach := e.createUser(t, "Sam", "coach")
	other := e.createUser(t, "Kim", "coach")
	student := e.createUser(t, "Jo", "student")
	admin := e.createUser(t, "Alex", "admin")

	status, body := e.do(t, http.MethodPost, "/api/courses", student, map[string]any{"title": "Nope", "author": student.id})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], `role "coach" or "admin"`)

	status, body = e.do(t, http.MethodPost, "/api/courses", coach, map[string]any{"title": "No author"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["errors"], "author")

	status, body = e.do(t, http.MethodPost, "/api/courses", coach, map[string]any{
		"title":          "Kettlebells",
		"author":         coach.id,
		"duration_weeks": 6,
	})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["id"].(string)
	assert.Equal(t, "Courses", body["type"])
	assert.Equal(t, "Sam", body["author"].(map[string]any)["display"])

	status, _ = e.do(t, http.MethodGet, "/api/courses/"+id, anonymous, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodPatch, "/api/courses/"+id, anonymous, map[string]any{"summary": "x"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], `role "admin"`)

	status, _ = e.do(t, http.MethodPatch, "/api/courses/"+id, other, map[string]any{"summary": "x"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = e.do(t, http.MethodPatch, "/api/courses/"+id, coach, map[string]any{"summary": "Swing and press"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Swing and press", body["summary"])

	status, body = e.do(t, http.MethodGet, "/api/courses?q=kettle", anonymous, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = e.do(t, http.MethodGet, "/api/courses/"+id+"/display", anonymous, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "title", first["kind"])
	assert.Equal(t, "Kettlebells", first["value"])
	assert.Equal(t, "/courses/"+id, first["link"])

	status, _ = e.do(t, http.MethodDelete, "/api/courses/"+id, other, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, http.MethodDelete, "/api/courses/"+id, admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = e.do(t, http.MethodGet, "/api/courses/"+id, anonymous, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestActivityFeed(t *testing.T) {
	e := newEnv(t)
	coach := e.createUser(t, "Sam", "coach")

	status, body := e.do(t, http.MethodPost, "/api/courses", coach, map[string]any{"title": "Kettlebells", "author": coach.id})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["id"].(string)
	status, _ = e.do(t, http.MethodPatch, "/api/courses/"+id, coach, map[string]any{"summary": "Swing"})
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		status, body = e.do(t, http.MethodGet, "/api/courses/"+id+"/activity", anonymous, nil)
		return status == http.StatusOK && body["total"] == float64(2)
	}, 2*time.Second, 20*time.Millisecond)
	items := body["items"].([]any)
	assert.Equal(t, "stored", items[0].(map[string]any)["kind"])

	status, _ = e.do(t, http.MethodGet, "/api/users/"+coach.id+"/activity", anonymous, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, http.MethodPost, "/api/courses/"+id+"/activity", coach, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestViewDenialOnUsers(t *testing.T) {
	e := newEnv(t)
	ada := e.createUser(t, "Ada", "student")
	bob := e.createUser(t, "Bob", "student")

	status, _ := e.do(t, http.MethodGet, "/api/users/"+ada.id, ada, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodGet, "/api/users/"+ada.id+"/display", bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], "admin")
}

func TestMultipartUpload(t *testing.T) {
	e := newEnv(t)
	coach := e.createUser(t, "Sam", "coach")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Mobility"))
	require.NoError(t, mw.WriteField("author", coach.id))
	require.NoError(t, mw.WriteField("published", "true"))
	fw, err := mw.CreateFormFile("cover", "cover.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/courses", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, body := e.send(t, req, coach)
	require.Equal(t, http.StatusCreated, status, body)
	assert.True(t, strings.HasSuffix(body["cover"].(string), "/cover.png"))
	assert.Equal(t, true, body["published"])
}

func TestMetadataEndpoints(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodGet, "/v1/resolve?path=/courses/abc/lessons/42", anonymous, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Lessons", body["type"])
	assert.Equal(t, "42", body["id"])

	status, _ = e.do(t, http.MethodGet, "/v1/resolve?path=/nowhere", anonymous, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = e.do(t, http.MethodGet, "/v1/schema/Courses", anonymous, nil)
	require.Equal(t, http.StatusOK, status)
	fields := body["fields"].([]any)
	title := fields[0].(map[string]any)
	assert.Equal(t, "title", title["name"])
	assert.Equal(t, "text", title["kind"])
	assert.Equal(t, "author", body["owner_field"])

	status, _ = e.do(t, http.MethodGet, "/v1/schema/Nope", anonymous, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, http.MethodGet, "/api/courses/abc/unknown", anonymous, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodPut, "/api/courses", anonymous, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestEventStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/events?type=Categories"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	got := make(chan event.Change, 8)
	go func() {
		for {
			var c event.Change
			if err := wsjson.Read(ctx, conn, &c); err != nil {
				return
			}
			got <- c
		}
	}()

	// The server subscribes after the handshake completes, so keep
	// writing until the first change comes through.
	admin := who{id: "root", roles: "admin"}
	for i := 0; ; i++ {
		status, _ := e.do(t, http.MethodPost, "/api/categories", admin, map[string]any{"name": "Strength"})
		require.Equal(t, http.StatusCreated, status)
		select {
		case c := <-got:
			assert.Equal(t, event.Stored, c.Kind)
			assert.Equal(t, "Categories", string(c.EntityType))
			return
		case <-time.After(50 * time.Millisecond):
		}
		require.Less(t, i, 40, "no change received")
	}
}

func TestEventStreamHidesRecordsTheSubjectCannotView(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payer := e.createUser(t, "Pat", "student")
	admin := who{id: "root", roles: "admin"}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	got := make(chan event.Change, 32)
	go func() {
		for {
			var c event.Change
			if err := wsjson.Read(ctx, conn, &c); err != nil {
				return
			}
			got <- c
		}
	}()

	var seen []event.Change
	// waitFor collects changes until one names id or the stream goes quiet.
	waitFor := func(id string) bool {
		for {
			select {
			case c := <-got:
				seen = append(seen, c)
				if c.EntityID == id {
					return true
				}
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}
	}

	// Wait until the subscription is live.
	for i := 0; ; i++ {
		status, body := e.do(t, http.MethodPost, "/api/categories", admin, map[string]any{"name": "Warm-up"})
		require.Equal(t, http.StatusCreated, status)
		if waitFor(body["id"].(string)) {
			break
		}
		require.Less(t, i, 40, "no change received")
	}

	status, body := e.do(t, http.MethodPost, "/api/payments", admin, map[string]any{"author": payer.id, "amount": 49})
	require.Equal(t, http.StatusCreated, status, body)
	paymentID := body["id"].(string)
	status, body = e.do(t, http.MethodPost, "/api/categories", admin, map[string]any{"name": "Strength"})
	require.Equal(t, http.StatusCreated, status)
	categoryID := body["id"].(string)

	seen = nil
	deadline := time.Now().Add(3 * time.Second)
	for !waitFor(categoryID) {
		require.True(t, time.Now().Before(deadline), "category change not received")
	}
	for _, c := range seen {
		assert.NotEqual(t, paymentID, c.EntityID)
		assert.NotEqual(t, "Payments", string(c.EntityType))
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/events"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://elsewhere.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
