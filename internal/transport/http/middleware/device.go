package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

const (
	// DeviceIDHeader carries the opaque client identifier that owns the auth state.
	DeviceIDHeader = "X-Device-ID"

	deviceKey = "device"
)

// DeviceResolver returns the bootstrapped auth state of a device.
type DeviceResolver interface {
	Get(ctx context.Context, deviceID string) (*usecase.Device, error)
}

// RequireDevice resolves the calling device and stores it on the gin context.
func RequireDevice(devices DeviceResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetHeader(DeviceIDHeader)
		if deviceID == "" {
			abortWithError(c, http.StatusBadRequest, "device_missing", "missing "+DeviceIDHeader+" header")
			return
		}

		ctx := context.WithValue(c.Request.Context(), logger.DeviceIDKey{}, deviceID)
		c.Request = c.Request.WithContext(ctx)

		device, err := devices.Get(ctx, deviceID)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidDevice) {
				abortWithError(c, http.StatusBadRequest, "device_invalid", "invalid "+DeviceIDHeader+" header")
				return
			}
			_ = c.Error(err)
			abortWithError(c, http.StatusServiceUnavailable, "device_unavailable", "device state unavailable")
			return
		}

		c.Set(deviceKey, device)
		CurrentScope(c).DeviceID = deviceID

		c.Next()
	}
}

// CurrentDevice returns the device resolved by RequireDevice.
func CurrentDevice(c *gin.Context) (*usecase.Device, bool) {
	value, exists := c.Get(deviceKey)
	if !exists {
		return nil, false
	}
	device, ok := value.(*usecase.Device)
	return device, ok && device != nil
}
