// Package httpapi exposes a facade/query.Facade as a JSON REST surface
// using github.com/labstack/echo/v4, the HTTP framework the teacher
// repo's go.mod already carries transitively (pulled in by its desktop
// build's dev server) and which this engine promotes to a first-class,
// directly-imported dependency for its own demonstration/integration
// transport (spec.md §1's "out of core" facade, domain stack per
// SPEC_FULL.md §3).
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/SimonWaldherr/lstore-engine/internal/facade/query"
)

// Server wraps one table's facade as an HTTP API.
type Server struct {
	echo   *echo.Echo
	facade *query.Facade
}

// New builds a Server routing requests to facade.
func New(facade *query.Facade) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{echo: e, facade: facade}
	e.POST("/rows", s.handleInsert)
	e.GET("/rows/:col/:value", s.handleSelect)
	e.PATCH("/rows/:key", s.handleUpdate)
	e.DELETE("/rows/:key", s.handleDelete)
	e.POST("/rows/:key/increment", s.handleIncrement)
	e.GET("/sum/:col/:start/:end", s.handleSum)
	e.POST("/indices/:col", s.handleCreateIndex)
	e.DELETE("/indices/:col", s.handleDropIndex)
	return s
}

// Start serves on addr, blocking until the server stops or errors.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Handler returns the underlying echo.Echo, useful for tests via
// httptest.NewRecorder + echo's ServeHTTP.
func (s *Server) Handler() http.Handler { return s.echo }

type insertRequest struct {
	Columns []uint64 `json:"columns"`
}

func (s *Server) handleInsert(c echo.Context) error {
	var req insertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := s.facade.Insert(c.Request().Context(), req.Columns); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleSelect(c echo.Context) error {
	col, err := strconv.Atoi(c.Param("col"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad column index"})
	}
	value, err := strconv.ParseUint(c.Param("value"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad value"})
	}
	rows, err := s.facade.Select(c.Request().Context(), col, value, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rows)
}

type updateRequest struct {
	Values  []uint64 `json:"values"`
	Present []bool   `json:"present"`
}

func (s *Server) handleUpdate(c echo.Context) error {
	key, err := strconv.ParseUint(c.Param("key"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad key"})
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := s.facade.Update(c.Request().Context(), key, req.Values, req.Present); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleDelete(c echo.Context) error {
	key, err := strconv.ParseUint(c.Param("key"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad key"})
	}
	if err := s.facade.Delete(c.Request().Context(), key); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

type incrementRequest struct {
	Column int   `json:"column"`
	Delta  int64 `json:"delta"`
}

func (s *Server) handleIncrement(c echo.Context) error {
	key, err := strconv.ParseUint(c.Param("key"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad key"})
	}
	var req incrementRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := s.facade.Increment(c.Request().Context(), key, req.Column, req.Delta); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleSum(c echo.Context) error {
	col, err := strconv.Atoi(c.Param("col"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad column index"})
	}
	start, err := strconv.ParseUint(c.Param("start"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad start"})
	}
	end, err := strconv.ParseUint(c.Param("end"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad end"})
	}
	total, err := s.facade.Sum(c.Request().Context(), start, end, col)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"sum": total})
}

func (s *Server) handleCreateIndex(c echo.Context) error {
	col, err := strconv.Atoi(c.Param("col"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad column index"})
	}
	if err := s.facade.CreateIndex(c.Request().Context(), col); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleDropIndex(c echo.Context) error {
	col, err := strconv.Atoi(c.Param("col"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad column index"})
	}
	if err := s.facade.DropIndex(c.Request().Context(), col); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}
