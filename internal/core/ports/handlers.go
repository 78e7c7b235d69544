package ports

import "github.com/gin-gonic/gin"

type HTTPHandler interface {
	ListRooms(c *gin.Context)
	GetRoom(c *gin.Context)
}
