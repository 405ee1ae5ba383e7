// Copyright (c) 2025 BVK Chaitanya

package gobs

type TelegramState struct {
	// UserChatIDMap maps telegram user names to their private chat ids, learnt
	// from the first message an authorized user sends to the bot.
	UserChatIDMap map[string]int64
}
