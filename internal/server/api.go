package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type speakRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (s *Server) getSettings(c *gin.Context) {
	current, err := s.store.Load(c.Request.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Could not load settings, serving defaults")
	}
	c.JSON(http.StatusOK, current)
}

// putSettings applies a partial update: keys missing from the body keep their
// stored value.
func (s *Server) putSettings(c *gin.Context) {
	ctx := c.Request.Context()
	current, err := s.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load settings before update")
	}

	if err := c.ShouldBindJSON(&current); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Save(ctx, current); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, current.Normalize())
}

func (s *Server) speak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	utt, ok := s.orch.Speak(c.Request.Context(), req.Text, req.Lang)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "speech disabled or already speaking"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": utt.ID})
}

func (s *Server) stop(c *gin.Context) {
	s.orch.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}
