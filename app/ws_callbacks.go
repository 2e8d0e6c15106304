package arena

import (
	"fmt"
	"log/slog"

	"github.com/putto11262002/arena/core"
)

func (app *App) onUserConnect(uid string) {
	app.logger.Info("user online", slog.String("uid", uid))
}

func (app *App) onUserDisconnect(uid string) {
	app.logger.Info("user offline", slog.String("uid", uid))
}

func (app *App) onConnectionOpen(uid string, id int) {
	app.logger.Debug("connection opened", slog.String("uid", uid), slog.Int("connection", id))
}

// onConnectionClose refreshes the roster of every room the closed connection had joined.
func (app *App) onConnectionClose(uid string, id int, rooms []string) {
	app.logger.Debug("connection closed", slog.String("uid", uid), slog.Int("connection", id),
		slog.Any("rooms", rooms))
	for _, roomID := range rooms {
		info := core.RoomInfo{Users: app.wsManager.RoomUsers(roomID)}
		if err := app.eventRouter.EmitToRoom(info, roomID); err != nil {
			app.logger.Error(fmt.Sprintf("refresh roster of %s: %s", roomID, err))
		}
	}
}
