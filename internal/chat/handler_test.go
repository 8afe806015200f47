package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-audiochat/internal/domain"
	myMiddleware "go-audiochat/internal/middleware"
)

// tokenIsUser accepts "tok-<user>" and returns <user> as both id and name.
type tokenIsUser struct{}

func (tokenIsUser) ValidateToken(token string) (string, string, error) {
	user, ok := strings.CutPrefix(token, "tok-")
	if !ok || user == "" {
		return "", "", errors.New("bad token")
	}
	return user, user, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	c := newTestCoordinator(t, nil, nil)
	h := NewHandler(c, ClientConfig{PingPeriod: 30 * time.Second}, 1<<20)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.NewAuthMiddleware(tokenIsUser{}).Handle)
		h.Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, user string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-"+user)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestRoomEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var room domain.Room
	status := doJSON(t, srv, http.MethodPost, "/api/rooms", "alice", CreateRoomRequest{Name: "lobby"}, &room)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "lobby", room.Name)

	var errRes ErrorResponse
	status = doJSON(t, srv, http.MethodPost, "/api/rooms", "alice", CreateRoomRequest{Name: "lobby"}, &errRes)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, errRes.Error)

	status = doJSON(t, srv, http.MethodPost, "/api/rooms", "alice", CreateRoomRequest{Name: ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var rooms []domain.Room
	status = doJSON(t, srv, http.MethodGet, "/api/rooms", "alice", nil, &rooms)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, rooms, 1)

	status = doJSON(t, srv, http.MethodGet, "/api/rooms/missing", "alice", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status = doJSON(t, srv, http.MethodGet, "/api/rooms/missing/messages", "alice", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var members []Member
	status = doJSON(t, srv, http.MethodGet, "/api/rooms/"+room.ID+"/members", "alice", nil, &members)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, members)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func uploadClip(t *testing.T, srv *httptest.Server, user, roomID string, data []byte) (int, domain.AudioClip) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/rooms/"+roomID+"/clips", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer tok-"+user)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var clip domain.AudioClip
	if res.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&clip))
	}
	return res.StatusCode, clip
}

func TestClipEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/rooms", "u0", CreateRoomRequest{Name: "studio"}, &room))

	status, _ := uploadClip(t, srv, "u0", room.ID, []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, clip := uploadClip(t, srv, "u0", room.ID, wavClip())
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "u0", clip.UserID)

	for i := 1; i <= 5; i++ {
		var res VoteResponse
		status := doJSON(t, srv, http.MethodPost, "/api/clips/"+clip.ID+"/vote", fmt.Sprintf("U%d", i), nil, &res)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, i, res.VoteCount)
	}

	status = doJSON(t, srv, http.MethodPost, "/api/clips/"+clip.ID+"/vote", "U6", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	status = doJSON(t, srv, http.MethodPost, "/api/clips/missing/vote", "U6", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var got domain.AudioClip
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/clips/"+clip.ID, "u0", nil, &got))
	assert.True(t, got.Approved)
	assert.Equal(t, 5, got.VoteCount)

	var clips []domain.AudioClip
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/rooms/"+room.ID+"/clips", "u0", nil, &clips))
	assert.Len(t, clips, 1)
}

// wsPeer reads newline separated frames off one socket.
type wsPeer struct {
	conn    *websocket.Conn
	pending []json.RawMessage
}

func dialWS(t *testing.T, srv *httptest.Server, user string) *wsPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok-" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{conn: conn}
}

func (p *wsPeer) send(t *testing.T, m WSMessage) {
	t.Helper()
	require.NoError(t, p.conn.WriteJSON(m))
}

func (p *wsPeer) next(t *testing.T) map[string]any {
	t.Helper()
	for len(p.pending) == 0 {
		p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := p.conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			p.pending = append(p.pending, json.RawMessage(line))
		}
	}
	raw := p.pending[0]
	p.pending = p.pending[1:]
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWebSocketRoomFlow(t *testing.T) {
	srv := newTestServer(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/rooms", "alice", CreateRoomRequest{Name: "lobby"}, &room))

	alice := dialWS(t, srv, "alice")
	bob := dialWS(t, srv, "bob")

	alice.send(t, WSMessage{Type: FrameJoin, RoomID: room.ID})
	assert.Equal(t, FrameJoined, alice.next(t)["type"])
	bob.send(t, WSMessage{Type: FrameJoin, RoomID: room.ID})
	assert.Equal(t, FrameJoined, bob.next(t)["type"])

	bob.send(t, WSMessage{Type: FrameJoin, RoomID: "missing"})
	reply := bob.next(t)
	assert.Equal(t, FrameError, reply["type"])

	alice.send(t, WSMessage{Type: FrameSend, RoomID: room.ID, Content: "hi"})
	for _, p := range []*wsPeer{alice, bob} {
		ev := p.next(t)
		require.Equal(t, domain.EventMessageCreated, ev["type"])
		data := ev["data"].(map[string]any)
		assert.Equal(t, "hi", data["content"])
		assert.Equal(t, "alice", data["user_id"])
	}

	bob.send(t, WSMessage{Type: FramePing})
	assert.Equal(t, FramePong, bob.next(t)["type"])

	bob.send(t, WSMessage{Type: FrameLeave, RoomID: room.ID})
	assert.Equal(t, FrameLeft, bob.next(t)["type"])
	bob.send(t, WSMessage{Type: FrameSend, RoomID: room.ID, Content: "gone"})
	reply = bob.next(t)
	assert.Equal(t, FrameError, reply["type"])
	assert.Contains(t, reply["error"], "not a member")
}
