package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/radovskyb/watcher"
)

type configStruct struct {
	Discord struct {
		Token      string `json:"token"`
		APIVersion string `json:"api_version"`
	} `json:"discord"`
	Project struct {
		UUID    string `json:"uuid"`
		DataDir string `json:"data_dir"`
	} `json:"project"`
	Presence struct {
		Status   string `json:"status"`
		Activity string `json:"activity"`
	} `json:"presence"`
}

func loadConfig() configStruct {
	var json = jsoniter.ConfigCompatibleWithStandardLibrary

	file, err := os.ReadFile("./data/config.json")
	if err != nil {
		fmt.Printf("%s %s\n", ERROR, err.Error())
		os.Exit(1)
	}

	var configData configStruct
	if err = json.Unmarshal(file, &configData); err != nil {
		fmt.Printf("%s %s\n", ERROR, err.Error())
		os.Exit(1)
	}

	if configData.Project.DataDir == "" {
		configData.Project.DataDir = "./data"
	}
	if configData.Presence.Status == "" {
		configData.Presence.Status = "online"
	}

	// First run gets a generated project id written back to the file.
	if configData.Project.UUID == "" {
		configData.Project.UUID = uuid.NewString()
		jsonBytes, _ := json.MarshalIndent(configData, "", " ")
		if writeErr := os.WriteFile("./data/config.json", jsonBytes, 0644); writeErr != nil {
			fmt.Printf("%s %s\n", ERROR, writeErr.Error())
		}
	}

	return configData
}

func checkDataFolderExists() {
	if _, err := os.Stat("./data"); !os.IsNotExist(err) {
		return
	}

	if folderCreationErr := os.Mkdir("data", os.ModePerm); folderCreationErr != nil {
		return
	}

	token := readInput("Bot Token: ")

	var configData configStruct
	configData.Discord.Token = token
	configData.Discord.APIVersion = apiVersion
	configData.Project.UUID = uuid.NewString()
	configData.Project.DataDir = "./data"
	configData.Presence.Status = "online"
	configData.Presence.Activity = "Powered by OnSocket"

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	jsonBytes, _ := json.MarshalIndent(configData, "", " ")
	if jsonWriteErr := os.WriteFile("./data/config.json", jsonBytes, 0644); jsonWriteErr != nil {
		return
	}

	fmt.Printf("\n%s Config written to /data/config.json, place handler content next to it\n", INFO)
}

// watchConfigChanges hot-applies presence edits to the session; the token and
// project id need a restart.
func watchConfigChanges(session *Session) {
	w := watcher.New()

	go func() {
		for {
			select {
			case event := <-w.Event:
				_ = event
				reloadConfig("./data/config.json", session)
			case err := <-w.Error:
				fmt.Println(err)
			case <-w.Closed:
				return
			}
		}
	}()

	if err := w.Add("./data/config.json"); err != nil {
		return
	}
	go func() { w.Wait() }()
	if err := w.Start(time.Millisecond * 1000); err != nil {
		return
	}
}

func reloadConfig(path string, session *Session) {
	var json = jsoniter.ConfigCompatibleWithStandardLibrary

	file, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var configData configStruct
	if err = json.Unmarshal(file, &configData); err != nil {
		return
	}

	config = configData
	session.UpdatePresence(configData.Presence.Status, configData.Presence.Activity)
}
