package http

import (
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/socialsapp/socials-service/internal/composer"
	"github.com/socialsapp/socials-service/internal/entry"
	"github.com/socialsapp/socials-service/internal/feed"
	"github.com/socialsapp/socials-service/internal/media"
	"github.com/socialsapp/socials-service/internal/session"
	"github.com/socialsapp/socials-service/internal/store"
)

// Deps carries the wired components the handlers close over.
type Deps struct {
	Session  *session.Provider
	Store    store.EventStore
	Feed     *feed.Feed
	Composer *composer.Composer
	Entry    *entry.Router
	Media    media.Store
}

func RegisterHandlers(r *gin.Engine, d Deps) {
	// locators minted by the in-memory media store resolve locally
	if mem, ok := d.Media.(*media.MemoryStore); ok {
		r.GET("/media/:key", localMediaHandler(mem))
	}
	v1 := r.Group("/v1")
	{
		v1.POST("/auth/signup", signUpHandler(d.Session))
		v1.POST("/auth/signin", signInHandler(d.Session))
		v1.POST("/auth/reset", resetHandler(d.Session))
		v1.GET("/session", sessionHandler(d.Entry))

		v1.GET("/socials", listHandler(d.Store))
		v1.GET("/socials/feed", feedStreamHandler(d.Store))
		v1.GET("/socials/:id/interested", likeCountHandler(d.Store))

		auth := v1.Group("", AuthMiddleware(d.Session))
		{
			auth.POST("/auth/signout", signOutHandler(d.Session))
			auth.POST("/socials", createHandler(d.Composer))
			auth.POST("/socials/:id/interested", toggleHandler(d.Feed))
			auth.DELETE("/socials/:id", deleteHandler(d.Feed))
		}
	}
}

type credentialsReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func signUpHandler(p *session.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := p.SignUp(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			c.JSON(authStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func signInHandler(p *session.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := p.SignIn(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			c.JSON(authStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

type resetReq struct {
	Email string `json:"email" binding:"required"`
}

func resetHandler(p *session.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := p.SendPasswordReset(c.Request.Context(), req.Email); err != nil {
			c.JSON(authStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
	}
}

func signOutHandler(p *session.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := p.SignOut(c.Request.Context(), c.GetString("token")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "signed out"})
	}
}

func sessionHandler(r *entry.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": r.State().String()})
	}
}

func listHandler(st store.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := st.ListOrdered(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// feedStreamHandler streams full-list snapshots as server-sent events until
// the client disconnects, which releases the store subscription.
func feedStreamHandler(st store.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := st.Subscribe(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Stream(func(w io.Writer) bool {
			snap, ok := <-snapshots
			if !ok {
				return false
			}
			b, err := json.Marshal(snap)
			if err != nil {
				return false
			}
			c.SSEvent("snapshot", string(b))
			return true
		})
	}
}

func likeCountHandler(st store.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := st.LikeCount(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(storeStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// createHandler reads a multipart draft: eventName, eventDate (epoch
// millis), eventLocation, eventDescription and an image part. Field
// validation order is owned by the composer.
func createHandler(cp *composer.Composer) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, _ := strconv.ParseInt(c.PostForm("eventDate"), 10, 64)
		draft := composer.Draft{
			Name:        c.PostForm("eventName"),
			Date:        date,
			Location:    c.PostForm("eventLocation"),
			Description: c.PostForm("eventDescription"),
		}
		if file, err := c.FormFile("image"); err == nil {
			f, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			defer f.Close()
			blob, err := ioutil.ReadAll(f)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			draft.Image = blob
			draft.ImageType = file.Header.Get("Content-Type")
		}
		rec, err := cp.Submit(c.Request.Context(), identityFrom(c), draft)
		if err != nil {
			c.JSON(composerStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, rec)
	}
}

func toggleHandler(f *feed.Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := f.ToggleInterested(c.Request.Context(), identityFrom(c), c.Param("id"))
		if err != nil {
			c.JSON(feedStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

func deleteHandler(f *feed.Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := f.Delete(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
			c.JSON(feedStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	}
}

func localMediaHandler(m *media.MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		blob, ok := m.Get(c.Param("key"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
			return
		}
		c.Data(http.StatusOK, "image/jpeg", blob)
	}
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownEmail):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func feedStatus(err error) int {
	switch {
	case errors.Is(err, feed.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, feed.ErrUnknownEvent), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func composerStatus(err error) int {
	switch {
	case errors.Is(err, composer.ErrMissingName),
		errors.Is(err, composer.ErrMissingDate),
		errors.Is(err, composer.ErrMissingLocation),
		errors.Is(err, composer.ErrMissingDescription),
		errors.Is(err, composer.ErrMissingImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
