package bot

import (
	"sentinel-antinuke/internal/modules/antinuke"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) registerCommands() error {
	actionChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(storage.ActionKinds))
	for _, kind := range storage.ActionKinds {
		actionChoices = append(actionChoices, &discordgo.ApplicationCommandOptionChoice{Name: string(kind), Value: string(kind)})
	}
	minOne := float64(1)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "antinuke",
			Description: "Configure anti-nuke protection",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Configurer la protection anti-nuke",
				discordgo.EnglishUS: "Configure anti-nuke protection",
				discordgo.SpanishES: "Configurar la proteccion anti-nuke",
			},
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("status", "Show anti-nuke configuration and recent activity"),
				subcommand("enable", "Enable anti-nuke protection"),
				subcommand("disable", "Disable anti-nuke protection"),
				subcommand("setlog", "Set the log channel",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Text channel for anti-nuke logs",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					}),
				subcommand("setpunish", "Set the punishment mode",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "mode",
						Description: "jail, strip or ban",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "jail", Value: string(storage.PunishJail)},
							{Name: "strip", Value: string(storage.PunishStrip)},
							{Name: "ban", Value: string(storage.PunishBan)},
						},
					}),
				subcommand("threshold", "Set an action threshold",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "action",
						Description: "Tracked action",
						Required:    true,
						Choices:     actionChoices,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "count",
						Description: "Actions allowed inside the interval",
						Required:    true,
						MinValue:    &minOne,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "interval",
						Description: "Window in seconds",
						Required:    true,
						MinValue:    &minOne,
						MaxValue:    antinuke.MaxThresholdInterval,
					}),
			},
		},
		{
			Name:        "vanity",
			Description: "Protect the vanity URL",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Proteger l'URL personnalisee",
				discordgo.EnglishUS: "Protect the vanity URL",
				discordgo.SpanishES: "Proteger la URL personalizada",
			},
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("set", "Set and guard the vanity code",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "code",
						Description: "3-32 letters, digits or dashes",
						Required:    true,
					}),
				subcommand("disable", "Stop guarding the vanity code"),
			},
		},
		userListCommand("whitelist", "Manage users exempt from anti-nuke"),
		userListCommand("wladmin", "Manage wladmins (owner only)"),
		{
			Name:        "lockdown",
			Description: "Lock every channel for @everyone",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Verrouiller tous les salons",
				discordgo.EnglishUS: "Lock every channel for @everyone",
				discordgo.SpanishES: "Bloquear todos los canales",
			},
			Options: []*discordgo.ApplicationCommandOption{
				bypassOption("bypass1"),
				bypassOption("bypass2"),
				bypassOption("bypass3"),
			},
		},
		{
			Name:        "unlock",
			Description: "Restore channels locked by /lockdown",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Restaurer les salons verrouilles",
				discordgo.EnglishUS: "Restore channels locked by /lockdown",
				discordgo.SpanishES: "Restaurar los canales bloqueados",
			},
		},
		{
			Name:        "jail",
			Description: "Jail a member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "Member to jail",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason shown in the log",
				},
			},
		},
		{
			Name:        "sanitize",
			Description: "Clean decorated member names",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("on", "Sanitize names of new members"),
				subcommand("off", "Stop sanitizing new members"),
				subcommand("member", "Sanitize one member now",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Member to sanitize",
						Required:    true,
					}),
			},
		},
	}

	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", cmd); err != nil {
			return err
		}
	}
	return nil
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func userListCommand(name, description string) *discordgo.ApplicationCommand {
	user := func() *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "Target user",
			Required:    true,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			subcommand("add", "Add a user", user()),
			subcommand("remove", "Remove a user", user()),
			subcommand("list", "List users"),
		},
	}
}

func bypassOption(name string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionChannel,
		Name:        name,
		Description: "Channel left untouched",
	}
}
