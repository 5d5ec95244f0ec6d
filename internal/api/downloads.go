package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gin-gonic/gin"
)

// handleDownload serves one named manifest artifact as an attachment.
func (s *Server) handleDownload(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := s.lookupJob(c)
		if !ok {
			return
		}
		artifact, err := s.store.FindArtifact(c.Request.Context(), job.ID, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if artifact == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not available"})
			return
		}
		if _, err := os.Stat(artifact.Path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact file missing"})
			return
		}
		c.FileAttachment(artifact.Path, name)
	}
}

var assetKinds = map[string]struct{}{
	"styles":      {},
	"backgrounds": {},
	"music":       {},
}

// handleAssetCatalog lists the bundled asset files of one kind from the
// configured assets directory. Missing directories read as empty catalogs.
func (s *Server) handleAssetCatalog(c *gin.Context) {
	kind := c.Param("kind")
	if _, ok := assetKinds[kind]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown asset kind"})
		return
	}

	dir := filepath.Join(s.cfg.Paths.AssetsDir, kind)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"kind": kind, "assets": names})
}
