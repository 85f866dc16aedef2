package server

import (
	"net/http"

	store "aiproxy/internal/storage"

	"github.com/gin-gonic/gin"
)

// healthHandler reports service health: store connectivity (including
// writes queued for replay while the store is unreachable) and how
// much of the credential pool is currently selectable.
func healthHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"

		storeInfo := gin.H{"connected": false, "queuedWrites": 0}
		if deps.Storage != nil {
			connected := deps.Storage.Health(c.Request.Context()) == nil
			storeInfo["connected"] = connected
			if rb, ok := deps.Storage.(*store.ReplayBackend); ok {
				storeInfo["queuedWrites"] = rb.QueuedWrites()
			}
			if !connected {
				status = "degraded"
			}
		}

		healthy, total := 0, 0
		if deps.CredentialManager != nil {
			for _, cred := range deps.CredentialManager.GetAllCredentials() {
				total++
				if cred.IsHealthy() && !cred.Disabled {
					healthy++
				}
			}
		}
		if total > 0 && healthy == 0 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   status,
			"store":    storeInfo,
			"accounts": gin.H{"healthy": healthy, "total": total},
		})
	}
}
