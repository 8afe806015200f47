package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base url")
	roomCount = flag.Int("rooms", 20, "rooms to create")
	perRoom   = flag.Int("users", 8, "users per room (at least 6 to approve a clip)")
	msgCount  = flag.Int("msgs", 20, "messages per user")
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

var (
	sent      atomic.Int64
	received  atomic.Int64
	approvals atomic.Int64
	rejected  atomic.Int64
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Int("rooms", *roomCount).Int("users_per_room", *perRoom).Int("msgs", *msgCount).Msg("starting load test")
	start := time.Now()
	run := fmt.Sprintf("%d", start.Unix())

	var g errgroup.Group
	for i := 0; i < *roomCount; i++ {
		g.Go(func() error {
			return runRoom(run, i)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("load test aborted")
	}

	log.Info().
		Dur("elapsed", time.Since(start)).
		Int64("sent", sent.Load()).
		Int64("received", received.Load()).
		Int64("approvals", approvals.Load()).
		Int64("rejected_votes", rejected.Load()).
		Msg("load test complete")
}

// runRoom has every user join one room and chat, then uploads a clip that
// all users vote on. Exactly one approval per room is expected.
func runRoom(run string, roomIdx int) error {
	tokens := make([]string, *perRoom)
	for u := range tokens {
		tok, err := authenticate(fmt.Sprintf("lt%sr%du%d", run, roomIdx, u), "password123")
		if err != nil {
			return err
		}
		tokens[u] = tok
	}

	var room struct {
		ID string `json:"id"`
	}
	if err := doJSON(http.MethodPost, "/api/rooms", tokens[0], map[string]string{"name": fmt.Sprintf("load-%s-%d", run, roomIdx)}, &room); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	var g errgroup.Group
	for u, tok := range tokens {
		g.Go(func() error {
			return chat(tok, room.ID, fmt.Sprintf("u%d", u))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	clipID, err := upload(tokens[0], room.ID)
	if err != nil {
		return err
	}
	var votes errgroup.Group
	for _, tok := range tokens {
		votes.Go(func() error {
			var res struct {
				JustApproved bool `json:"just_approved"`
			}
			err := doJSON(http.MethodPost, "/api/clips/"+clipID+"/vote", tok, nil, &res)
			switch {
			case err != nil:
				rejected.Add(1)
			case res.JustApproved:
				approvals.Add(1)
			}
			return nil
		})
	}
	return votes.Wait()
}

func chat(token, roomID, who string) error {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws connect %s: %w", who, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received.Add(int64(bytes.Count(data, []byte(`"message.created"`))))
		}
	}()

	if err := conn.WriteJSON(map[string]string{"type": "join", "room_id": roomID}); err != nil {
		return err
	}
	for i := 0; i < *msgCount; i++ {
		err := conn.WriteJSON(map[string]string{
			"type":    "send",
			"room_id": roomID,
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, who),
		})
		if err != nil {
			log.Warn().Err(err).Str("user", who).Msg("send failed")
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	<-done
	return nil
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) (string, error) {
	creds := map[string]string{"username": username, "password": password}
	doJSON(http.MethodPost, "/register", "", creds, nil)

	var data AuthResponse
	if err := doJSON(http.MethodPost, "/login", "", creds, &data); err != nil {
		return "", fmt.Errorf("login %s: %w", username, err)
	}
	return data.Token, nil
}

func upload(token, roomID string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		return "", err
	}
	part.Write(silentWav(4000))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, *baseURL+"/api/rooms/"+roomID+"/clips", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload: status %d", resp.StatusCode)
	}
	var clip struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&clip); err != nil {
		return "", err
	}
	return clip.ID, nil
}

func silentWav(samples int) []byte {
	b := make([]byte, 44+samples)
	copy(b, "RIFF")
	binary.LittleEndian.PutUint32(b[4:], uint32(len(b)-8))
	copy(b[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], 1)
	binary.LittleEndian.PutUint32(b[24:], 8000)
	binary.LittleEndian.PutUint32(b[28:], 8000)
	binary.LittleEndian.PutUint16(b[32:], 1)
	binary.LittleEndian.PutUint16(b[34:], 8)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], uint32(samples))
	return b
}

func doJSON(method, endpoint, token string, in, out any) error {
	var buf bytes.Buffer
	if in != nil {
		json.NewEncoder(&buf).Encode(in)
	}
	req, err := http.NewRequest(method, *baseURL+endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, endpoint, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
