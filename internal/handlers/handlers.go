package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/priyanshukr01/EcoSap/internal/auth"
	"github.com/priyanshukr01/EcoSap/internal/detection"
	"github.com/priyanshukr01/EcoSap/internal/repository"
	"github.com/priyanshukr01/EcoSap/internal/usecase"
)

// MaxUploadSize caps sapling image uploads at 10MB.
const MaxUploadSize = 10 * 1024 * 1024

type signupBody struct {
	Username     string  `json:"username" binding:"required"`
	Email        string  `json:"email" binding:"required,email"`
	Password     string  `json:"password" binding:"required,min=6,max=20"`
	Phone        string  `json:"phone" binding:"required,len=10"`
	Address      string  `json:"address" binding:"required,min=10,max=100"`
	Coordinates  coords  `json:"coordinates" binding:"required"`
	AadharNumber string  `json:"aadhar_number" binding:"required,len=12"`
	Signature    string  `json:"signature" binding:"required"`
}

type coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type loginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=20"`
}

type profileUpdateBody struct {
	Updates struct {
		Username    *string `json:"username"`
		Phone       *string `json:"phone"`
		Address     *string `json:"address"`
		Coordinates *coords `json:"coordinates"`
		Signature   *string `json:"signature"`
	} `json:"updates"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, awardUC *usecase.AwardUseCase, accountUC *usecase.AccountUseCase, authMiddleware gin.HandlerFunc, registry *prometheus.Registry) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")

	v1.POST("/signup", func(c *gin.Context) {
		var body signupBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := accountUC.Signup(c.Request.Context(), usecase.SignupInput{
			Username:     body.Username,
			Email:        body.Email,
			Password:     body.Password,
			Phone:        body.Phone,
			Address:      body.Address,
			Latitude:     body.Coordinates.Latitude,
			Longitude:    body.Coordinates.Longitude,
			AadharNumber: body.AadharNumber,
			Signature:    body.Signature,
		})
		if err != nil {
			if errors.Is(err, usecase.ErrEmailTaken) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusCreated, userResponse(user))
	})

	v1.POST("/login", func(c *gin.Context) {
		var body loginBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token, err := accountUC.Login(c.Request.Context(), body.Email, body.Password)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidCredentials) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	user := v1.Group("/user", authMiddleware)

	user.GET("/me", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		profile, err := accountUC.GetProfile(c.Request.Context(), userID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": userResponse(profile)})
	})

	user.POST("/update", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		var body profileUpdateBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "updates must be an object"})
			return
		}

		update := usecase.ProfileUpdate{
			Username:  body.Updates.Username,
			Phone:     body.Updates.Phone,
			Address:   body.Updates.Address,
			Signature: body.Updates.Signature,
		}
		if body.Updates.Coordinates != nil {
			update.Latitude = &body.Updates.Coordinates.Latitude
			update.Longitude = &body.Updates.Coordinates.Longitude
		}

		profile, err := accountUC.UpdateProfile(c.Request.Context(), userID, update)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": userResponse(profile)})
	})

	user.POST("/delete", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if err := accountUC.DeleteAccount(c.Request.Context(), userID); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	})

	sapling := v1.Group("/sapling", authMiddleware)

	sapling.POST("/credits", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "File too large",
				"details": "Maximum file size is 10MB",
			})
			return
		}
		mediaType := file.Header.Get("Content-Type")
		if !strings.HasPrefix(mediaType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Only image files are allowed"})
			return
		}

		gsd, err := strconv.ParseFloat(c.PostForm("gsd"), 64)
		if err != nil || gsd <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gsd must be a positive number"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()
		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		req := usecase.AwardRequest{
			Image:       data,
			MediaType:   mediaType,
			Filename:    file.Filename,
			GSD:         gsd,
			TreeSpecies: c.PostForm("species"),
		}
		if v, err := strconv.ParseFloat(c.PostForm("density"), 64); err == nil {
			req.VegetationDensity = &v
		}
		if v, err := strconv.ParseFloat(c.PostForm("previous_area"), 64); err == nil {
			req.PreviousArea = &v
		}
		if v, err := strconv.ParseFloat(c.PostForm("location_multiplier"), 64); err == nil {
			req.LocationMultiplier = &v
		}

		outcome, err := awardUC.Award(c.Request.Context(), userID, req)
		if err != nil {
			status, payload := awardErrorResponse(err)
			c.JSON(status, payload)
			return
		}

		c.JSON(http.StatusOK, outcome)
	})

	sapling.GET("/awards/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		outcome, err := awardUC.GetAward(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "award not found"})
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	sapling.GET("/awards", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		logs, err := awardUC.History(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"awards": logs})
	})
}

// awardErrorResponse maps pipeline failures to the HTTP statuses the
// original clients expect.
func awardErrorResponse(err error) (int, gin.H) {
	var de *detection.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case detection.KindInvalidInput:
			return http.StatusBadRequest, gin.H{"error": de.Detail}
		case detection.KindServiceUnavailable:
			return http.StatusServiceUnavailable, gin.H{
				"error":   "Area calculation service is unavailable",
				"details": de.Detail,
			}
		case detection.KindTimeout:
			return http.StatusGatewayTimeout, gin.H{
				"error":   "Request timeout",
				"details": "The area calculation took too long",
			}
		case detection.KindRemoteError:
			return http.StatusInternalServerError, gin.H{
				"error":   "Failed to calculate area",
				"details": de.Detail,
			}
		case detection.KindMalformedResponse:
			return http.StatusBadGateway, gin.H{
				"error":   "Failed to calculate area",
				"details": de.Detail,
			}
		}
	}

	if errors.Is(err, repository.ErrUserNotFound) {
		return http.StatusNotFound, gin.H{"error": "User not found"}
	}

	return http.StatusInternalServerError, gin.H{"error": "Internal server error"}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrAwardNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func userResponse(user *repository.User) gin.H {
	return gin.H{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"phone":    user.Phone,
		"address":  user.Address,
		"coordinates": gin.H{
			"latitude":  user.Latitude,
			"longitude": user.Longitude,
		},
		"ecocredits": user.Ecocredits,
		"created_at": user.CreatedAt,
	}
}
