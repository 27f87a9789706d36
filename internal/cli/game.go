package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcoot/triviagame/internal/api/request"
	"github.com/mcoot/triviagame/internal/api/response"
)

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Game commands",
	}

	cmd.AddCommand(newGameCreateCmd())
	cmd.AddCommand(newGameJoinCmd())
	cmd.AddCommand(newGameStartCmd())
	cmd.AddCommand(newGameAnswerCmd())
	cmd.AddCommand(newGameStateCmd())

	return cmd
}

func newGameCreateCmd() *cobra.Command {
	var (
		name           string
		answerTime     int
		showResultTime int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if name != "" {
				q.Set("name", name)
			}
			if answerTime > 0 {
				q.Set("answer_time", strconv.Itoa(answerTime))
			}
			if showResultTime > 0 {
				q.Set("show_result_time", strconv.Itoa(showResultTime))
			}
			path := "/game/create"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var result response.CreateGameResponse
			if err := client.Get(cmd.Context(), path, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Game name")
	cmd.Flags().IntVar(&answerTime, "answer-time", 0, "Seconds each question stays open (server default when unset)")
	cmd.Flags().IntVar(&showResultTime, "show-result-time", 0, "Seconds results are shown between questions (server default when unset)")

	return cmd
}

func newGameJoinCmd() *cobra.Command {
	var req request.AddParticipantRequest

	cmd := &cobra.Command{
		Use:   "join <game-id>",
		Short: "Join a game in its lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.DisplayName == "" {
				return fmt.Errorf("--name is required")
			}

			var result response.Accepted
			if err := client.Post(cmd.Context(), gamePath(args[0], "/participants"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name")
	cmd.Flags().StringVar(&req.ID, "id", "", "Participant id (generated when unset)")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")

	return cmd
}

func newGameStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <game-id>",
		Short: "Start the game and fetch its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Accepted
			if err := client.Post(cmd.Context(), gamePath(args[0], "/start"), nil, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func newGameAnswerCmd() *cobra.Command {
	var (
		participant string
		index       int
		answer      string
	)

	cmd := &cobra.Command{
		Use:   "answer <game-id>",
		Short: "Answer the current question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if participant == "" {
				return fmt.Errorf("--participant is required")
			}
			if !cmd.Flags().Changed("index") {
				return fmt.Errorf("--index is required")
			}

			req := request.AnswerRequest{
				ParticipantID: participant,
				QuestionIndex: &index,
				Answer:        answer,
			}
			var result response.Accepted
			if err := client.Post(cmd.Context(), gamePath(args[0], "/answers"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "Participant id")
	cmd.Flags().IntVar(&index, "index", 0, "Question index (0-based)")
	cmd.Flags().StringVar(&answer, "answer", "", "Answer text")

	return cmd
}

func newGameStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <game-id> <participant-id>",
		Short: "Show a participant's view of the game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.ParticipantState
			path := gamePath(args[0], "/participants/"+url.PathEscape(args[1])+"/state")
			if err := client.Get(cmd.Context(), path, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func gamePath(gameID, suffix string) string {
	return "/game/" + url.PathEscape(gameID) + suffix
}
