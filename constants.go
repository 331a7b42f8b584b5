package main

// Miscellaneous
var (
	SUCCESS string = "[\x1b[37m\x1b[38;5;135m+\x1b[37m]"
	INFO    string = "[\x1b[37m\x1b[38;5;135m?\x1b[37m]"
	ERROR   string = "[\x1b[31m-\x1b[39m]"

	onsocketAscii string = "\n" +
		"\x1b[37m\x1b[38;5;135m   ____       _____            __        __\n" +
		"\x1b[37m\x1b[38;5;135m  / __ \\___  / ___/____  _____/ /_____  / /_\n" +
		"\x1b[37m\x1b[38;5;135m / / / / _ \\ \\__ \\/ __ \\/ ___/ //_/ _ \\/ __/\n" +
		"\x1b[37m\x1b[38;5;135m/ /_/ /  __/___/ / /_/ / /__/ ,< /  __/ /_\n" +
		"\x1b[37m\x1b[38;5;135m\\____/\\___//____/\\____/\\___/_/|_|\\___/\\__/  \x1b[37m%s\n\n"
)

// Client
var (
	onsocketVersion string = "0.0.1"

	discordHost string = "discord.com"
	userAgent   string = "OnSocket/" + onsocketVersion

	config configStruct
)
