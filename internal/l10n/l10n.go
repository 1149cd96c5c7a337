// Package l10n holds the bot's message catalogs. Catalogs are plain maps
// keyed by message name; T falls back to English when a language or key is
// missing. Placeholders use fmt verbs.
package l10n

import "fmt"

type Key string

const (
	Welcome                Key = "welcome"
	LoginWelcome           Key = "login-welcome"
	SendCredentials        Key = "send-credentials"
	SendCredentialsAgain   Key = "send-credentials-again"
	WrongCredentials       Key = "wrong-credentials"
	WrongPassword          Key = "wrong-password"
	EmptyPassword          Key = "empty-password"
	UpdatedPassword        Key = "updated-password"
	ChangePasswordWarning  Key = "change-password-warning"
	AlreadyLoggedInAccount Key = "already-logged-in-account"
	WeHaveAlreadyMet       Key = "we-have-already-met"
	DontKnowYou            Key = "dont-know-you"
	LoginAttemptRequest    Key = "login-attempt-request"
	LoginAttemptAllowed    Key = "login-attempt-allowed"
	LoginAttemptDenied     Key = "login-attempt-denied"
	LoginAttemptAnswered   Key = "login-attempt-answered"
	StopConfirmation       Key = "stop-confirmation"
	StoppedPrimary         Key = "stopped-primary"
	StoppedPrimaryFollowUp Key = "stopped-primary-follow-up"
	StoppedSecondary       Key = "stopped-secondary"
	EmptyPackageList       Key = "empty-package-list"
	PackagesInProcess      Key = "packages-in-process"
	PackageStatusTitle     Key = "package-status-title"
	DescriptionField       Key = "description-field"
	TrackingField          Key = "tracking-field"
	StatusField            Key = "status-field"
	WeightField            Key = "weight-field"
	ReceivedByField        Key = "received-by-field"
	Pounds                 Key = "pounds"
	CredentialsPlaceholder Key = "credentials-placeholder"
	AllowKeyword           Key = "allow-keyword"
	AllowText              Key = "allow-text"
	DenyKeyword            Key = "deny-keyword"
	DenyText               Key = "deny-text"
	YesKeyword             Key = "yes-keyword"
	YesText                Key = "yes-text"
	NoKeyword              Key = "no-keyword"
	NoText                 Key = "no-text"
)

const DefaultLanguage = "en"

var catalogs = map[string]map[Key]string{
	"en": {
		Welcome:                "Hi! As you may already know, this bot helps you track your [Flypack](https://www.flypack.com.do) packages.\n_This bot has no legal relationship with the Flypack company or its affiliates._",
		LoginWelcome:           "Hi %s! I was able to sign in with your account, I will keep monitoring the status of your packages.",
		SendCredentials:        "Please send me your username and password so I can check your packages and their statuses. Don't worry, I will keep your credentials safe.\n\nSend them like this: _username, password_",
		SendCredentialsAgain:   "Please send me your username and password.\n\nSend them like this: *username, password*, with a comma (,) in between.",
		WrongCredentials:       "*Wrong username and password*\nPlease send me your username and password one more time.\n\nSend them like this: _username, password_",
		WrongPassword:          "The password seems to be incorrect. 🥴",
		EmptyPassword:          "Your password cannot be a blank message. 😑",
		UpdatedPassword:        "Your password has been updated. 🎉",
		ChangePasswordWarning:  "⚠️ I recommend you change your password as soon as possible.",
		AlreadyLoggedInAccount: "Hmm... this is odd, but it seems someone else already signed in with that account. Give me a few minutes while I check on this.",
		WeHaveAlreadyMet:       "I feel like we have been through this before, maybe you already sent that command. _Déjà vu_",
		DontKnowYou:            "But... I don't even know you. ಠ_ಠ",
		LoginAttemptRequest:    "Hey %s, the user %s is trying to sign in with your Flypack account, are you okay with this?",
		LoginAttemptAllowed:    "Your sign-in has been approved.",
		LoginAttemptDenied:     "Sorry... your sign-in attempt has not been approved.",
		LoginAttemptAnswered:   "%s\nDone, answer: *%s*",
		StopConfirmation:       "Are you sure you want to stop the bot?",
		StoppedPrimary:         "From now on you will no longer receive notifications about your packages. All information related to your account has been deleted as well.",
		StoppedPrimaryFollowUp: "Likewise, the users you previously authorized have been removed and will stop receiving notifications.",
		StoppedSecondary:       "From now on you will no longer receive notifications about the packages of account FLY-%s. The signed-in user has stopped the bot.\nIf you want, you can sign in using the /start command.",
		EmptyPackageList:       "Empty package list 📭",
		PackagesInProcess:      "You have %d packages in process",
		PackageStatusTitle:     "Package status",
		DescriptionField:       "Description",
		TrackingField:          "Tracking",
		StatusField:            "Status",
		WeightField:            "Weight",
		ReceivedByField:        "Received",
		Pounds:                 "pounds",
		CredentialsPlaceholder: "username, password",
		AllowKeyword:           "allow",
		AllowText:              "Allow",
		DenyKeyword:            "deny",
		DenyText:               "Deny",
		YesKeyword:             "yes",
		YesText:                "Yes",
		NoKeyword:              "no",
		NoText:                 "No",
	},
	"es": {
		Welcome:                "¡Hola! Como tal vez ya sepas, este bot te ayudará con el seguimiento de tus paquetes de [Flypack](https://www.flypack.com.do).\n_Este bot no posee ninguna relación jurídica con la empresa Flypack o sus allegados._",
		LoginWelcome:           "¡Hola %s! He podido iniciar sesión con tu usuario, ahora me mantendré monitoreando el estado de tus paquetes.",
		SendCredentials:        "Por favor, mándame tu usuario y contraseña; así podré revisar tus paquetes y sus estados. No te preocupes, mantendré tus credenciales bien seguras.\n\nMándalos de esta forma: _usuario, contraseña_",
		SendCredentialsAgain:   "Por favor, mándame tu usuario y contraseña.\n\nMándalos de esta forma: *usuario, contraseña*, utilizando una coma (,) en medio de.",
		WrongCredentials:       "*Usuario y contraseña incorrectos*\nPor favor, mándame tu usuario y contraseña una vez más.\n\nMándalos de esta forma: _usuario, contraseña_",
		WrongPassword:          "La contraseña parece ser incorrecta. 🥴",
		EmptyPassword:          "Tu contraseña no puede ser un mensaje en blanco. 😑",
		UpdatedPassword:        "La contraseña ha sido actualizada. 🎉",
		ChangePasswordWarning:  "⚠️ Te recomiendo que cambies tu contraseña tan pronto te sea posible.",
		AlreadyLoggedInAccount: "Hmm... esto es extraño, pero, al parecer otra persona ya se ha logueado con esa cuenta. Te pido que me des unos minutos en lo que verifico esta situación.",
		WeHaveAlreadyMet:       "Me parece que ya hemos pasado por esto, quizás ya has enviado ese comando anteriormente. _Déjà vu_",
		DontKnowYou:            "Pero... yo ni siquiera te conozco. ಠ_ಠ",
		LoginAttemptRequest:    "Hey %s, el usuario %s está tratando de iniciar sesión con tu cuenta de Flypack, ¿estás de acuerdo con esto?",
		LoginAttemptAllowed:    "Tu inicio de sesión ha sido aprobado.",
		LoginAttemptDenied:     "Disculpa... tu intento de inicio de sesión no ha sido aprobado.",
		LoginAttemptAnswered:   "%s\nListo, respuesta: *%s*",
		StopConfirmation:       "¿Estás seguro que quieres detener el bot?",
		StoppedPrimary:         "A partir de este momento ya no recibirás más notificaciones sobre tus paquetes. De igual forma, la información relacionada a tu usuario ha sido eliminada.",
		StoppedPrimaryFollowUp: "Así mismo, los usuarios que has autorizado previamente han sido removidos y dejarán de recibir notificaciones.",
		StoppedSecondary:       "A partir de este momento ya no recibirás más notificaciones sobre los paquetes asociados a la cuenta FLY-%s. El usuario que se ha logueado previamente ha detenido las funciones del bot.\nSi deseas, puedes iniciar sesión usando el comando /start.",
		EmptyPackageList:       "Lista de paquetes vacía 📭",
		PackagesInProcess:      "Tienes %d paquetes en proceso",
		PackageStatusTitle:     "Estado de paquetes",
		DescriptionField:       "Descripción",
		TrackingField:          "Tracking",
		StatusField:            "Estado",
		WeightField:            "Peso",
		ReceivedByField:        "Recibido",
		Pounds:                 "libras",
		CredentialsPlaceholder: "usuario, contraseña",
		AllowKeyword:           "permitir",
		AllowText:              "Permitir",
		DenyKeyword:            "denegar",
		DenyText:               "Denegar",
		YesKeyword:             "si",
		YesText:                "Sí",
		NoKeyword:              "no",
		NoText:                 "No",
	},
}

// T renders the message for key in lang, formatting args with fmt. Unknown
// languages and missing keys fall back to English.
func T(lang string, key Key, args ...interface{}) string {
	catalog, ok := catalogs[lang]
	if !ok {
		catalog = catalogs[DefaultLanguage]
	}
	msg, ok := catalog[key]
	if !ok {
		msg = catalogs[DefaultLanguage][key]
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Supported reports whether lang has its own catalog.
func Supported(lang string) bool {
	_, ok := catalogs[lang]
	return ok
}
