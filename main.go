package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	rand.Seed(time.Now().UnixNano())
	fmt.Printf(onsocketAscii, onsocketVersion)

	checkDataFolderExists()
	config = loadConfig()

	log := newLogger()
	defer log.Sync()

	session := NewSession()
	session.UpdatePresence(config.Presence.Status, config.Presence.Activity)

	store := NewFileStore(config.Project.DataDir)
	cache := NewCacheHandler(log)
	dispatcher := NewDispatcher(log)
	registry := NewRegistry(config.Project.DataDir, dispatcher, log)
	client := NewClient(config.Discord.Token, config.Project.UUID, session, cache, dispatcher, registry, store, log)
	gateway := NewGateway(config.Discord.Token, client, session, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.InitializeApplication()
	go watchConfigChanges(session)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := gateway.Initialize(ctx); err != nil {
		log.Errorw("gateway startup failed", "error", err)
		return
	}

	fmt.Printf("%s Successfully started OnSocket at %s\n", SUCCESS, time.Now().Format("15:04:05"))

	<-c
	fmt.Printf("\r%s OnSocket stopped, %s guilds cached\n", ERROR, formatNumber(int64(cache.GuildCount())))
	cancel()
}
