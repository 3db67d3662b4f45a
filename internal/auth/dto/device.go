package dto

type RegisterDeviceRequest struct {
	Token      string `json:"token" binding:"required"`
	Platform   string `json:"platform"`
	DeviceInfo string `json:"device_info"`
}
