package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/models"
	"github.com/hyphahub/msghub/internal/store"
	"github.com/hyphahub/msghub/internal/workspace"
)

// RegisterRoutes wires the REST control surface onto router: workspace
// info/patch and service listing/registration (SPEC_FULL.md §4.6/§6 ADD).
func (s *Server) RegisterRoutes(router gin.IRoutes, st *store.Store) {
	router.GET("/workspaces/:name", getWorkspace(st))
	router.PATCH("/workspaces/:name", patchWorkspace(st))
	router.GET("/workspaces/:name/services", listServices(st))
	router.POST("/workspaces/:name/services", registerService(st))
}

func getWorkspace(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := st.GetWorkspace(c.Request.Context(), c.Param("name"))
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

func patchWorkspace(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var patch map[string]any
		if err := c.ShouldBindJSON(&patch); err != nil {
			writeAPIError(c, apperrors.Wrap(apperrors.InvalidArgument, "malformed patch body", err))
			return
		}

		mgr := st.GetWorkspaceManager(name, true)
		if err := mgr.Set(c.Request.Context(), patch); err != nil {
			writeAPIError(c, err)
			return
		}
		ws, err := mgr.GetInfo(c.Request.Context())
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

func listServices(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		mgr := st.GetWorkspaceManager(name, true)
		services, err := mgr.ListServices(c.Request.Context(), workspaceQuery(c))
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"services": services})
	}
}

func workspaceQuery(c *gin.Context) workspace.Query {
	return workspace.Query{Name: c.Query("name"), Type: c.Query("type")}
}

func registerService(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var svc models.Service
		if err := c.ShouldBindJSON(&svc); err != nil {
			writeAPIError(c, apperrors.Wrap(apperrors.InvalidArgument, "malformed service body", err))
			return
		}

		mgr := st.GetWorkspaceManager(name, true)
		if err := mgr.RegisterService(c.Request.Context(), name, &svc); err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusCreated, svc)
	}
}

func writeAPIError(c *gin.Context, err error) {
	aerr := apperrors.As(err)
	c.JSON(aerr.Kind.HTTPStatus(), aerr)
}
