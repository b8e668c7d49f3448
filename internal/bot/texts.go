// ABOUTME: User-facing texts for the registration and relay flow
// ABOUTME: Greetings and error replies mirror the wording users already know

package bot

const (
	// GreetingText takes the assistant name.
	GreetingText = "Welcome to the fxyzNetwork! I'm %s, your digital assistant. " +
		"Let's begin by creating your pseudonym. What name would you like to use within the network?"

	// RegisteredText takes the pseudonym and the provisioning summary.
	RegisteredText = "Great choice, %s! %s For now, you can ask me anything about the fxyzNetwork or how I can assist you!"

	WelcomeBackText        = "Welcome back! How can I assist you today?"
	NotRegisteredText      = "It seems you're not registered yet. Please start with /start to create your account."
	NoAgentText            = "Your agent hasn't been set up properly. Please try /start again."
	RegistrationFailedText = "I'm sorry, there was an error creating your agent. Please try again with /start."
	MaintenanceText        = "The assistant is under maintenance right now. Please try again a little later."
	ForgottenText          = "Your account and assistant have been deleted. Send /start to register again."
	ErrorText              = "Something went wrong on our side. Please try again."

	HelpText = "Commands: /start to register, /forget to delete your account, /help for this message. " +
		"Anything else you send goes to your assistant."
)
