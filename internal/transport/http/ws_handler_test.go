package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/memory"
)

func newTestService(t *testing.T) *app.SessionService {
	t.Helper()
	store := memory.NewExamStore()
	bank := memory.NewPackageRepository(memory.NewStaticPackageLoader(samplePackages()), time.Minute)
	ranking := app.NewRankingService(store, store, nil)
	service := app.NewSessionService(
		memory.NewSessionRegistry(),
		store, store, bank, store, ranking,
		app.SessionServiceOptions{},
	)
	t.Cleanup(service.Close)
	return service
}

func TestWebSocketAttemptFlow(t *testing.T) {
	service := newTestService(t)
	wsHandler := NewWSHandler(service, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1&packageId=pkg-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the session snapshot first.
	payload := readUntil(conn, t, "session")
	sessionObj, ok := payload["session"].(map[string]any)
	if !ok {
		t.Fatalf("expected session payload, got %v", payload)
	}
	if status, _ := sessionObj["status"].(string); status != "in_progress" {
		t.Fatalf("expected in_progress, got %q", status)
	}

	// Send an answer and expect the ack.
	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "q1",
			"optionKey":  "b",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	ack := readUntil(conn, t, "answerAck")
	if key, _ := ack["selectedOptionKey"].(string); key != "b" {
		t.Fatalf("expected ack for option b, got %v", ack)
	}

	// Submit and expect the graded result.
	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	result := readUntil(conn, t, "submitted")
	if score, _ := result["totalScore"].(float64); score != 5 {
		t.Fatalf("expected total score 5, got %v", result)
	}
}

func TestWebSocketRejectsUnknownQuestion(t *testing.T) {
	service := newTestService(t)
	wsHandler := NewWSHandler(service, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1&packageId=pkg-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(conn, t, "session")

	bad := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "q99",
			"optionKey":  "a",
		},
	}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	errPayload := readUntil(conn, t, "error")
	if errPayload["message"] == "" {
		t.Fatalf("expected an error message, got %v", errPayload)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	service := newTestService(t)
	wsHandler := NewWSHandler(service, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws?userId=u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// readUntil skips countdown updates until a message of the wanted type
// arrives.
func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if msg.Type == want {
			return msg.Payload
		}
		if msg.Type != "update" {
			t.Fatalf("expected %s, got %s", want, msg.Type)
		}
	}
	t.Fatalf("no %s message within 10 reads", want)
	return nil
}

func samplePackages() map[string]domain.QuestionPackage {
	return map[string]domain.QuestionPackage{
		"pkg-1": {
			ID:              "pkg-1",
			Title:           "Demo Tryout",
			DurationSeconds: 1800,
			Questions: []domain.Question{
				{
					ID:               "q1",
					SectionID:        "math",
					PointValue:       5,
					CorrectOptionKey: "b",
					Options: []domain.Option{
						{Key: "a", Text: "3"},
						{Key: "b", Text: "4"},
						{Key: "c", Text: "5"},
					},
				},
				{
					ID:        "q2",
					SectionID: "aptitude",
					Weighted:  true,
					Options: []domain.Option{
						{Key: "a", Text: "swift", PointValue: 4},
						{Key: "b", Text: "brisk", PointValue: 2},
						{Key: "c", Text: "slow", PointValue: 0},
					},
				},
			},
		},
	}
}
