package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/app"
	"github.com/pscheid92/whispercmd/internal/domain"
	apperrors "github.com/pscheid92/whispercmd/internal/platform/errors"
)

type userResponse struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	// Unrestricted is true when Commands is empty and the user may run anything.
	Unrestricted bool `json:"unrestricted"`
}

type addUserRequest struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
}

type commandsRequest struct {
	Commands []string `json:"commands"`
}

type sendMessageRequest struct {
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

func toUserResponse(u access.User) userResponse {
	cmds := u.Commands
	if cmds == nil {
		cmds = []string{}
	}
	return userResponse{Name: u.Name, Commands: cmds, Unrestricted: len(u.Commands) == 0}
}

func (s *Server) registerAdminRoutes(g *echo.Group) {
	g.GET("/users", s.handleListUsers)
	g.POST("/users", s.handleAddUser)
	g.GET("/users/:name", s.handleGetUser)
	g.DELETE("/users/:name", s.handleRemoveUser)
	g.POST("/users/:name/commands", s.handleGrantUserCommands)
	g.DELETE("/users/:name/commands", s.handleRevokeUserCommands)

	g.GET("/global-commands", s.handleListGlobalCommands)
	g.POST("/global-commands", s.handleGrantGlobalCommands)
	g.DELETE("/global-commands", s.handleRevokeGlobalCommands)

	g.GET("/commands", s.handleListCommands)
	g.POST("/messages", s.handleSendMessage)
}

func bindJSON(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return nil
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListUsers(c echo.Context) error {
	names := s.acl.Usernames()
	users := make([]userResponse, 0, len(names))
	for _, name := range names {
		u, err := s.acl.GetUser(name)
		if errors.Is(err, domain.ErrUserNotFound) {
			// removed concurrently
			continue
		}
		if err != nil {
			return apperrors.InternalError("failed to load user", err).WithField("name", name)
		}
		users = append(users, toUserResponse(u))
	}
	return writeJSON(c, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAddUser(c echo.Context) error {
	var req addUserRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	added, err := s.acl.AddUser(c.Request().Context(), access.UserSpec{Name: req.Name, Commands: req.Commands})
	if err != nil {
		return err
	}
	if !added {
		return apperrors.ConflictError("user already exists").WithField("name", req.Name)
	}

	u, err := s.acl.GetUser(req.Name)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleGetUser(c echo.Context) error {
	name := c.Param("name")
	u, err := s.acl.GetUser(name)
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.NotFoundError("user not found").WithField("name", name)
	}
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleRemoveUser(c echo.Context) error {
	name := c.Param("name")
	removed, err := s.acl.RemoveUser(c.Request().Context(), name)
	if err != nil {
		return err
	}
	if !removed {
		return apperrors.NotFoundError("user not found").WithField("name", name)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGrantUserCommands(c echo.Context) error {
	return s.changeUserCommands(c, s.acl.GrantUserCommands)
}

func (s *Server) handleRevokeUserCommands(c echo.Context) error {
	return s.changeUserCommands(c, s.acl.RevokeUserCommands)
}

func (s *Server) changeUserCommands(c echo.Context, op func(ctx context.Context, name string, commands ...string) (bool, error)) error {
	name := c.Param("name")
	var req commandsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Commands) == 0 {
		return apperrors.ValidationError("commands must not be empty")
	}

	found, err := op(c.Request().Context(), name, req.Commands...)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NotFoundError("user not found").WithField("name", name)
	}

	u, err := s.acl.GetUser(name)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleListGlobalCommands(c echo.Context) error {
	return writeJSON(c, http.StatusOK, commandsRequest{Commands: nonNil(s.acl.GlobalCommands())})
}

func (s *Server) handleGrantGlobalCommands(c echo.Context) error {
	return s.changeGlobalCommands(c, s.acl.GrantGlobalCommands)
}

func (s *Server) handleRevokeGlobalCommands(c echo.Context) error {
	return s.changeGlobalCommands(c, s.acl.RevokeGlobalCommands)
}

func (s *Server) changeGlobalCommands(c echo.Context, op func(ctx context.Context, commands ...string) error) error {
	var req commandsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Commands) == 0 {
		return apperrors.ValidationError("commands must not be empty")
	}

	if err := op(c.Request().Context(), req.Commands...); err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, commandsRequest{Commands: nonNil(s.acl.GlobalCommands())})
}

func (s *Server) handleListCommands(c echo.Context) error {
	return writeJSON(c, http.StatusOK, commandsRequest{Commands: nonNil(s.commands.Commands())})
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Recipients) == 0 {
		return apperrors.ValidationError("recipients must not be empty")
	}

	err := s.sender.SendSync(c.Request().Context(), req.Message, req.Recipients...)
	if sendErr, ok := errors.AsType[*app.SendError](err); ok {
		structured := apperrors.AsStructuredError(sendErr.Err)
		if structured.Type == apperrors.TypeInternal {
			structured = apperrors.ExternalError("failed to deliver message", sendErr.Err)
		}
		return structured.WithField("recipient", sendErr.Recipient).WithField("skipped", sendErr.Skipped)
	}
	if err != nil {
		return apperrors.ExternalError("failed to deliver message", err)
	}

	return writeJSON(c, http.StatusOK, map[string]any{
		"status":     "sent",
		"recipients": len(req.Recipients),
		"truncated":  utf8.RuneCountInString(req.Message) > app.MaxMessageLength,
	})
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
