package http

import (
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"habitora-core/internal/marketplace/domain/client"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/marketplace/usecase"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
	"habitora-core/internal/shared/utils"
)

// MarketplaceHTTPHandler exposes the conversation, workflow and notification
// operations over REST. Every route requires an authenticated caller; the
// auth middleware installs the user context the handlers read from.
type MarketplaceHTTPHandler struct {
	Conversations usecase.ConversationUsecase
	Workflow      usecase.WorkflowUsecase
	Notifications usecase.NotificationUsecase
	Log           logger.Logger
}

// NewMarketplaceHTTPHandler creates the REST handler for the marketplace module.
func NewMarketplaceHTTPHandler(
	conversations usecase.ConversationUsecase,
	workflow usecase.WorkflowUsecase,
	notifications usecase.NotificationUsecase,
	log logger.Logger,
) *MarketplaceHTTPHandler {
	return &MarketplaceHTTPHandler{
		Conversations: conversations,
		Workflow:      workflow,
		Notifications: notifications,
		Log:           log,
	}
}

// RegisterRoutes mounts every marketplace endpoint behind the auth middleware.
func (h *MarketplaceHTTPHandler) RegisterRoutes(router fiber.Router, authMiddleware fiber.Handler) {
	api := router.Group("/", authMiddleware)

	h.registerConversationRoutes(api)
	h.registerRequestRoutes(api)
	h.registerNotificationRoutes(api)
}

func (h *MarketplaceHTTPHandler) registerConversationRoutes(router fiber.Router) {
	router.Post("/conversations/resolve", h.ResolveConversation)
	router.Get("/conversations/:conversationID", h.GetConversation)
	router.Post("/conversations/:conversationID/messages", h.SendMessage)
	router.Post("/conversations/:conversationID/read", h.MarkConversationRead)
}

func (h *MarketplaceHTTPHandler) registerRequestRoutes(router fiber.Router) {
	router.Post("/requests", h.SubmitRequest)
	router.Post("/requests/:requestID/assign", h.AssignProvider)
	router.Post("/requests/:requestID/transition", h.TransitionRequest)
	router.Post("/requests/:requestID/progress", h.AppendProgress)
	router.Get("/requests/:requestID/history", h.RequestHistory)
}

func (h *MarketplaceHTTPHandler) registerNotificationRoutes(router fiber.Router) {
	router.Post("/notifications/:notificationID/read", h.MarkNotificationRead)
	router.Delete("/notifications/:notificationID", h.DeleteNotification)
}

type resolveConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// ResolveConversation returns the caller's conversation with the named user,
// creating it when it does not exist yet.
func (h *MarketplaceHTTPHandler) ResolveConversation(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	var req resolveConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request_body",
			"message": "Failed to parse request body",
		})
	}

	conversation, err := h.Conversations.Resolve(c.UserContext(), callerID, req.OtherUserID)
	if err != nil {
		h.Log.Error("Failed to resolve conversation", "error", err, "userID", callerID)
		return respondError(c, err)
	}

	return c.JSON(conversation)
}

func (h *MarketplaceHTTPHandler) GetConversation(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	conversation, err := h.Conversations.Get(c.UserContext(), c.Params("conversationID"), callerID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(conversation)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *MarketplaceHTTPHandler) SendMessage(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request_body",
			"message": "Failed to parse request body",
		})
	}

	message, err := h.Conversations.Send(c.UserContext(), c.Params("conversationID"), callerID, req.Text)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(message)
}

func (h *MarketplaceHTTPHandler) MarkConversationRead(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	if err := h.Conversations.MarkRead(c.UserContext(), c.Params("conversationID"), callerID); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type submitRequestBody struct {
	ProviderID  string  `json:"providerId"`
	Category    string  `json:"category"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Budget      float64 `json:"budget"`
	Note        string  `json:"note"`
}

// SubmitRequest creates a service request owned by the caller.
func (h *MarketplaceHTTPHandler) SubmitRequest(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	var body submitRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request_body",
			"message": "Failed to parse request body",
		})
	}

	request, err := h.Workflow.Submit(c.UserContext(), usecase.SubmitRequest{
		RequesterID: callerID,
		ProviderID:  body.ProviderID,
		Category:    model.RequestCategory(body.Category),
		Title:       body.Title,
		Description: body.Description,
		Budget:      body.Budget,
		Note:        body.Note,
	})
	if err != nil {
		h.Log.Error("Failed to submit request", "error", err, "userID", callerID)
		return respondError(c, err)
	}

	h.Log.Info("Service request submitted", "requestID", request.ID, "category", request.Category)
	return c.Status(fiber.StatusCreated).JSON(request)
}

type assignProviderRequest struct {
	ProviderID string `json:"providerId"`
}

func (h *MarketplaceHTTPHandler) AssignProvider(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	var req assignProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request_body",
			"message": "Failed to parse request body",
		})
	}

	request, err := h.Workflow.Assign(c.UserContext(), c.Params("requestID"), callerID, req.ProviderID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(request)
}

type transitionRequestBody struct {
	Target string   `json:"target"`
	Note   string   `json:"note"`
	Images []string `json:"images"`
}

// TransitionRequest moves a request along its lifecycle graph. The target
// status decides which participant is allowed to act.
func (h *MarketplaceHTTPHandler) TransitionRequest(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	var body transitionRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request_body",
			"message": "Failed to parse request body",
		})
	}

	request, err := h.Workflow.Transition(c.UserContext(), usecase.TransitionRequest{
		RequestID: c.Params("requestID"),
		ActorID:   callerID,
		Target:    model.RequestStatus(body.Target),
		Note:      body.Note,
		Images:    body.Images,
	})
	if err != nil {
		return respondError(c, err)
	}

	h.Log.Info("Service request transitioned", "requestID", request.ID, "status", request.Status)
	return c.JSON(request)
}

type progressRequestBody struct {
	Note   string   `json:"note"`
	Images []string `json:"images"`
}

// AppendProgress records a provider update. JSON bodies carry already-hosted
// image URLs; multipart bodies carry raw photos that are stored through the
// media client before the history entry is written.
func (h *MarketplaceHTTPHandler) AppendProgress(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	in := usecase.ProgressRequest{
		RequestID: c.Params("requestID"),
		ActorID:   callerID,
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_multipart_form",
				"message": "Failed to parse multipart form",
			})
		}
		if notes := form.Value["note"]; len(notes) > 0 {
			in.Note = notes[0]
		}
		uploads, err := uploadsFromForm(form)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_attachment",
				"message": err.Error(),
			})
		}
		in.Uploads = uploads
	} else {
		var body progressRequestBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_request_body",
				"message": "Failed to parse request body",
			})
		}
		in.Note = body.Note
		in.Images = body.Images
	}

	entry, err := h.Workflow.AppendProgress(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *MarketplaceHTTPHandler) RequestHistory(c *fiber.Ctx) error {
	if _, err := utils.GetUserIDFromContext(c.UserContext()); err != nil {
		return unauthenticated(c)
	}

	entries, err := h.Workflow.History(c.UserContext(), c.Params("requestID"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *MarketplaceHTTPHandler) MarkNotificationRead(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	if err := h.Notifications.MarkRead(c.UserContext(), c.Params("notificationID"), callerID); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MarketplaceHTTPHandler) DeleteNotification(c *fiber.Ctx) error {
	callerID, err := utils.GetUserIDFromContext(c.UserContext())
	if err != nil {
		return unauthenticated(c)
	}

	if err := h.Notifications.Delete(c.UserContext(), c.Params("notificationID"), callerID); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// uploadsFromForm converts multipart attachments into media uploads. The
// files stay open until the media client has drained them; fiber releases
// the form after the handler returns.
func uploadsFromForm(form *multipart.Form) ([]client.MediaUpload, error) {
	headers := form.File["images"]
	if len(headers) == 0 {
		return nil, nil
	}

	uploads := make([]client.MediaUpload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, client.MediaUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get(fiber.HeaderContentType),
			Size:        header.Size,
			Reader:      file,
		})
	}
	return uploads, nil
}

func unauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": "User not authenticated",
	})
}

// respondError translates the shared error taxonomy into HTTP statuses. The
// live query layer absorbs index degradation internally, so IndexMissing
// never reaches this surface.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.IsValidation(err):
		status, code = fiber.StatusBadRequest, "validation_failed"
	case errors.IsAuthentication(err):
		status, code = fiber.StatusUnauthorized, "authentication_required"
	case errors.IsPermissionDenied(err):
		status, code = fiber.StatusForbidden, "permission_denied"
	case errors.IsNotFound(err):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.IsConflict(err):
		status, code = fiber.StatusConflict, "conflict"
	case errors.IsInvalidTransition(err):
		status, code = fiber.StatusUnprocessableEntity, "invalid_transition"
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}
