package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/socialsapp/socials-service/internal/composer"
	"github.com/socialsapp/socials-service/internal/config"
	"github.com/socialsapp/socials-service/internal/entry"
	"github.com/socialsapp/socials-service/internal/feed"
	"github.com/socialsapp/socials-service/internal/logger"
	"github.com/socialsapp/socials-service/internal/media"
	"github.com/socialsapp/socials-service/internal/model"
	"github.com/socialsapp/socials-service/internal/session"
	"github.com/socialsapp/socials-service/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	engine *gin.Engine
	feed   *feed.Feed
	cancel context.CancelFunc
}

func newTestApp(t *testing.T) *testApp {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Social{}, &model.User{}, &model.OutboxEvent{}))

	log, err := logger.NewLogger()
	assert.NoError(t, err)

	st := store.NewStore(db, nil, store.NewMemoryNotifier(), &kafka.Writer{}, log)
	sessions := session.NewProvider(db, nil, "test-secret", time.Hour, log)
	router := entry.NewRouter(sessions)

	ctx, cancel := context.WithCancel(context.Background())
	f := feed.New(st, log)
	go f.Run(ctx)

	mediaStore := media.NewMemoryStore("http://media")
	cp := composer.New(st, mediaStore, log)

	engine := NewRouter(Deps{
		Session:  sessions,
		Store:    st,
		Feed:     f,
		Composer: cp,
		Entry:    router,
		Media:    mediaStore,
	}, config.RateLimitConfig{RPS: 1000, Burst: 1000}, log)

	t.Cleanup(func() {
		cancel()
		router.Close()
	})
	return &testApp{engine: engine, feed: f, cancel: cancel}
}

func (a *testApp) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) signUp(t *testing.T, email string) string {
	body, _ := json.Marshal(map[string]string{"email": email, "password": "hunter22"})
	w := a.do(t, http.MethodPost, "/v1/auth/signup", "", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	return resp["token"]
}

func draftBody(t *testing.T, fields map[string]string, withImage bool) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		assert.NoError(t, mw.WriteField(k, v))
	}
	if withImage {
		part, err := mw.CreateFormFile("image", "event.jpg")
		assert.NoError(t, err)
		_, err = part.Write([]byte{0xff, 0xd8, 0xff})
		assert.NoError(t, err)
	}
	assert.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func validFields(date int64) map[string]string {
	return map[string]string{
		"eventName":        "Picnic",
		"eventDate":        strconv.FormatInt(date, 10),
		"eventLocation":    "Park",
		"eventDescription": "Fun",
	}
}

func TestHandlers_CreateRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	body, ct := draftBody(t, validFields(100), true)
	w := app.do(t, http.MethodPost, "/v1/socials", "", body, ct)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_CreateReportsFirstMissingField(t *testing.T) {
	app := newTestApp(t)
	token := app.signUp(t, "alice@example.com")

	fields := validFields(100)
	delete(fields, "eventName")
	body, ct := draftBody(t, fields, true)
	w := app.do(t, http.MethodPost, "/v1/socials", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please enter an event name.")

	// missing image is reported last
	body, ct = draftBody(t, validFields(100), false)
	w = app.do(t, http.MethodPost, "/v1/socials", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please choose an event image.")
}

func TestHandlers_CreateToggleDeleteFlow(t *testing.T) {
	app := newTestApp(t)
	owner := app.signUp(t, "owner@example.com")
	other := app.signUp(t, "other@example.com")

	body, ct := draftBody(t, validFields(100), true)
	w := app.do(t, http.MethodPost, "/v1/socials", owner, body, ct)
	assert.Equal(t, http.StatusCreated, w.Code)
	var rec model.Social
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Empty(t, rec.Likes)
	assert.Contains(t, rec.EventImage, rec.ID)

	// the uploaded image is retrievable at its locator key
	w = app.do(t, http.MethodGet, "/media/"+rec.ID+".jpg", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// wait for the live feed to observe the new event
	assert.Eventually(t, func() bool {
		_, err := app.feed.Interested("x", rec.ID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// toggle on
	w = app.do(t, http.MethodPost, "/v1/socials/"+rec.ID+"/interested", other, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var state feed.Interested
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Member)
	assert.Equal(t, 1, state.Count)

	// toggle off
	w = app.do(t, http.MethodPost, "/v1/socials/"+rec.ID+"/interested", other, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Member)
	assert.Equal(t, 0, state.Count)

	// non-owner cannot delete
	w = app.do(t, http.MethodDelete, "/v1/socials/"+rec.ID, other, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodDelete, "/v1/socials/"+rec.ID, owner, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodDelete, "/v1/socials/"+rec.ID, owner, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_ListIsOrderedByEventDate(t *testing.T) {
	app := newTestApp(t)
	token := app.signUp(t, "alice@example.com")

	for _, date := range []int64{200, 100} {
		body, ct := draftBody(t, validFields(date), true)
		w := app.do(t, http.MethodPost, "/v1/socials", token, body, ct)
		assert.Equal(t, http.StatusCreated, w.Code)
	}

	w := app.do(t, http.MethodGet, "/v1/socials", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []model.Social
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
	assert.Equal(t, int64(100), list[0].EventDate)
	assert.Equal(t, int64(200), list[1].EventDate)
}

func TestHandlers_SessionStateEndpoint(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/v1/session", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unauthenticated")

	app.signUp(t, "alice@example.com")
	w = app.do(t, http.MethodGet, "/v1/session", "", nil, "")
	assert.Equal(t, `{"state":"authenticated"}`, w.Body.String())
}

func TestHandlers_SignInAndOut(t *testing.T) {
	app := newTestApp(t)
	app.signUp(t, "alice@example.com")

	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "wrong"})
	w := app.do(t, http.MethodPost, "/v1/auth/signin", "", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body, _ = json.Marshal(map[string]string{"email": "alice@example.com", "password": "hunter22"})
	w = app.do(t, http.MethodPost, "/v1/auth/signin", "", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = app.do(t, http.MethodPost, "/v1/auth/signout", resp["token"], nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
