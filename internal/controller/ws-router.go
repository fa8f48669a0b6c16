package controller

import "github.com/syncbeats/server/pkg/wsrouter"

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw())
	mux.Use(c.loggerWSMw())
	mux.OnError(c.handleWSError)

	wsrouter.Handle(mux, "ALIVE", c.handleAlive)
	wsrouter.Handle(mux, "JOIN", c.handleJoin)
	wsrouter.Handle(mux, "SYNC", c.handleSync)
	wsrouter.Handle(mux, "SET_TRACK", c.handleSetTrack)
	wsrouter.Handle(mux, "TOGGLE_PLAY", c.handleTogglePlay)
	wsrouter.Handle(mux, "SEEK", c.handleSeek)
	wsrouter.Handle(mux, "HEARTBEAT", c.handleHeartbeat)
	wsrouter.Handle(mux, "CHAT", c.handleChat)
	wsrouter.Handle(mux, "GET_STATE", c.handleGetState)

	return mux
}
