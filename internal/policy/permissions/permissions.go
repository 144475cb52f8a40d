package permissions

import api "github.com/OvyFlash/telegram-bot-api"

const (
	statusMember     = "member"
	statusRestricted = "restricted"
)

func IsManager(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

// IsAdmin reports chat administrators and the creator.
func IsAdmin(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

func IsPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if IsManager(member) {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

// HasDefaultPermissions is true for plain members and for restricted members
// that can still send text, every media kind, other messages and previews.
func HasDefaultPermissions(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	switch member.Status {
	case statusMember:
		return true
	case statusRestricted:
		return member.CanSendMessages &&
			member.CanSendAudios &&
			member.CanSendDocuments &&
			member.CanSendPhotos &&
			member.CanSendVideos &&
			member.CanSendVideoNotes &&
			member.CanSendVoiceNotes &&
			member.CanSendPolls &&
			member.CanSendOtherMessages &&
			member.CanAddWebPagePreviews
	default:
		return false
	}
}

// TextOnly allows plain text and denies everything else.
func TextOnly() *api.ChatPermissions {
	return &api.ChatPermissions{CanSendMessages: true}
}
